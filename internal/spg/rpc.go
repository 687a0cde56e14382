package spg

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// SOAP framing for the two RPC operations both ends expose. A call carries a
// correlation header and the serialized message document; the only valid
// success acknowledgement is a single-element result equal to SuccessCode.

const (
	soapEnvURI = "http://schemas.xmlsoap.org/soap/envelope/"

	// NamespaceBDO is the namespace of the server the BDO exposes.
	NamespaceBDO = "BDO/SoapServer"
	// NamespaceSPG is the namespace of the remote gateway servers.
	NamespaceSPG = "SPG/SoapServer"

	// MethodProcessRequest and MethodProcessResponse are the only registered
	// RPC operations. Both route to the same receive path.
	MethodProcessRequest  = "processRequest"
	MethodProcessResponse = "processResponse"

	// SuccessCode is the protocol's success acknowledgement.
	SuccessCode = "0"
	// FailureCode is returned for any receive failure.
	FailureCode = "-1"
)

// Call is a parsed RPC invocation.
type Call struct {
	Method  string
	Header  string
	Message string
}

// RPCError reports a malformed or unsupported SOAP call.
type RPCError struct {
	Reason string
	Err    error
}

func (e *RPCError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rpc error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("rpc error: %s", e.Reason)
}

func (e *RPCError) Unwrap() error { return e.Err }

// CorrelationHeader renders the "{spid}|{invoke_id}|{timestamp}" header the
// remote uses for deduplication.
func CorrelationHeader(h Header) string {
	return fmt.Sprintf("%s|%d|%d", h.ServiceProvID, h.InvokeID, h.MessageDateTime.Unix())
}

type soapEnvelopeIn struct {
	XMLName xml.Name   `xml:"Envelope"`
	Body    soapBodyIn `xml:"Body"`
}

type soapBodyIn struct {
	Inner []byte `xml:",innerxml"`
}

// firstElement decodes the first child element of a SOAP body.
func firstElement(inner []byte) (xml.StartElement, *xml.Decoder, error) {
	dec := xml.NewDecoder(bytes.NewReader(inner))
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, dec, nil
		}
	}
}

// ParseCall extracts the RPC method, correlation header and message document
// from a SOAP request body.
func ParseCall(raw []byte) (*Call, error) {
	var env soapEnvelopeIn
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, &RPCError{Reason: "malformed envelope", Err: err}
	}

	start, dec, err := firstElement(env.Body.Inner)
	if err != nil {
		return nil, &RPCError{Reason: "empty body", Err: err}
	}

	method := start.Name.Local
	if method != MethodProcessRequest && method != MethodProcessResponse {
		return nil, &RPCError{Reason: fmt.Sprintf("method not implemented: %s", method)}
	}

	var call struct {
		Header  string `xml:"header"`
		Message string `xml:"message"`
	}
	if err := dec.DecodeElement(&call, &start); err != nil {
		return nil, &RPCError{Reason: "malformed call", Err: err}
	}

	return &Call{Method: method, Header: call.Header, Message: call.Message}, nil
}

// ParseResult extracts the result values of an RPC response. A SOAP fault is
// surfaced as an error carrying the fault string.
func ParseResult(raw []byte, method string) ([]string, error) {
	var env soapEnvelopeIn
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, &RPCError{Reason: "malformed envelope", Err: err}
	}

	start, dec, err := firstElement(env.Body.Inner)
	if err != nil {
		return nil, &RPCError{Reason: "empty body", Err: err}
	}

	if start.Name.Local == "Fault" {
		var fault struct {
			FaultCode   string `xml:"faultcode"`
			FaultString string `xml:"faultstring"`
		}
		if err := dec.DecodeElement(&fault, &start); err != nil {
			return nil, &RPCError{Reason: "malformed fault", Err: err}
		}
		return nil, &RPCError{Reason: fmt.Sprintf("fault: %s", fault.FaultString)}
	}

	if start.Name.Local != method+"Response" {
		return nil, &RPCError{Reason: fmt.Sprintf("unexpected response element %q", start.Name.Local)}
	}

	var results []string
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, &RPCError{Reason: "malformed response", Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var text string
			if err := dec.DecodeElement(&text, &t); err != nil {
				return nil, &RPCError{Reason: "malformed result", Err: err}
			}
			results = append(results, text)
		case xml.EndElement:
			if t.Name == start.Name {
				return results, nil
			}
		}
	}
}

type soapCallOut struct {
	XMLName xml.Name
	NS      string `xml:"xmlns,attr"`
	Header  string `xml:"header"`
	Message string `xml:"message"`
}

type soapResultOut struct {
	XMLName xml.Name
	NS      string `xml:"xmlns,attr"`
	Result  soapResultValue
}

type soapResultValue struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type soapFaultOut struct {
	XMLName     xml.Name `xml:"soapenv:Fault"`
	FaultCode   string   `xml:"faultcode"`
	FaultString string   `xml:"faultstring"`
}

func wrapEnvelope(inner []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<soapenv:Envelope xmlns:soapenv="` + soapEnvURI + `">`)
	buf.WriteString("<soapenv:Body>")
	buf.Write(inner)
	buf.WriteString("</soapenv:Body>")
	buf.WriteString("</soapenv:Envelope>")
	return buf.Bytes()
}

// EncodeCall renders an RPC invocation envelope.
func EncodeCall(namespace, method, header, message string) ([]byte, error) {
	inner, err := xml.Marshal(soapCallOut{
		XMLName: xml.Name{Local: method},
		NS:      namespace,
		Header:  header,
		Message: message,
	})
	if err != nil {
		return nil, err
	}
	return wrapEnvelope(inner), nil
}

// EncodeResult renders the single-value response envelope for a call.
func EncodeResult(namespace, method, result string) ([]byte, error) {
	inner, err := xml.Marshal(soapResultOut{
		XMLName: xml.Name{Local: method + "Response"},
		NS:      namespace,
		Result: soapResultValue{
			XMLName: xml.Name{Local: method + "Result"},
			Value:   result,
		},
	})
	if err != nil {
		return nil, err
	}
	return wrapEnvelope(inner), nil
}

// EncodeFault renders a client-fault envelope with the given description.
func EncodeFault(faultString string) []byte {
	inner, err := xml.Marshal(soapFaultOut{
		FaultCode:   "Client",
		FaultString: faultString,
	})
	if err != nil {
		// A fault of two string fields cannot fail to marshal; keep the
		// envelope well-formed regardless.
		inner = []byte("<soapenv:Fault><faultcode>Client</faultcode><faultstring>" +
			strings.ReplaceAll(faultString, "<", "&lt;") + "</faultstring></soapenv:Fault>")
	}
	return wrapEnvelope(inner)
}
