// Package spg implements the wire protocol spoken between the BDO and its
// counterparts: the typed message set, the XML envelope codec and the SOAP
// call framing. The schema is a fixed, versioned contract — both ends must
// agree on it byte for byte, so every legal command tag is enumerated here
// and anything else is a decode-time error.
package spg

import (
	"fmt"
	"time"
)

// Direction identifies the logical channel a message travels on.
type Direction string

const (
	BDOtoSPG Direction = "BDOtoSPG" // owner to service provider gateway
	SPGtoBDO Direction = "SPGtoBDO" // service provider gateway to owner
	BDOtoBDR Direction = "BDOtoBDR" // owner to clearinghouse relay
	BDRtoBDO Direction = "BDRtoBDO" // clearinghouse relay to owner
)

// Inbound reports whether messages on this direction arrive at the BDO.
func (d Direction) Inbound() bool {
	return d == SPGtoBDO || d == BDRtoBDO
}

// Reverse returns the opposite direction on the same channel.
func (d Direction) Reverse() Direction {
	switch d {
	case BDOtoSPG:
		return SPGtoBDO
	case SPGtoBDO:
		return BDOtoSPG
	case BDOtoBDR:
		return BDRtoBDO
	case BDRtoBDO:
		return BDOtoBDR
	}
	return d
}

func validDirection(d Direction) bool {
	switch d {
	case BDOtoSPG, SPGtoBDO, BDOtoBDR, BDRtoBDO:
		return true
	}
	return false
}

// Header carries the sender-assigned identification of a message. The invoke
// id is the correlation and dedup key expected by the remote; it is unique
// only together with the service provider id and direction.
type Header struct {
	ServiceProvID   string    `xml:"service_prov_id"`
	InvokeID        int64     `xml:"invoke_id"`
	MessageDateTime time.Time `xml:"message_date_time"`
}

// Body is one of the closed set of message payloads.
type Body interface {
	CommandTag() string
}

// Message is a decoded wire document.
type Message struct {
	Direction Direction
	Header    Header
	Body      Body
}

// CommandTag returns the business type name of the message body.
func (m *Message) CommandTag() string {
	if m.Body == nil {
		return ""
	}
	return m.Body.CommandTag()
}

// Reply builds a response message on the reversed direction, keeping the
// sender's invoke id so the remote can correlate it.
func (m *Message) Reply(body Body) *Message {
	return &Message{
		Direction: m.Direction.Reverse(),
		Header: Header{
			ServiceProvID:   m.Header.ServiceProvID,
			InvokeID:        m.Header.InvokeID,
			MessageDateTime: time.Now().UTC().Truncate(time.Second),
		},
		Body: body,
	}
}

// TNVersionID identifies one portability record by telephone number and
// version id.
type TNVersionID struct {
	TN        string `xml:"tn"`
	VersionID int64  `xml:"version_id"`
}

// SubscriptionData is the business payload of a subscription version.
type SubscriptionData struct {
	RecipientSP          string     `xml:"subscription_recipient_sp"`
	RecipientEOT         string     `xml:"subscription_recipient_eot"`
	ActivationTimestamp  time.Time  `xml:"subscription_activation_timestamp"`
	BroadcastWindowStart *time.Time `xml:"broadcast_window_start_timestamp"`
	RN1                  string     `xml:"subscription_rn1"`
	NewCNL               string     `xml:"subscription_new_cnl"`
	LNPType              string     `xml:"subscription_lnp_type"`
	DownloadReason       string     `xml:"subscription_download_reason"`
	LineType             string     `xml:"subscription_line_type"`
	OptionalData         string     `xml:"subscription_optional_data"`
}

// SubscriptionDeleteData is the payload of a deletion download.
type SubscriptionDeleteData struct {
	DownloadReason       string     `xml:"subscription_download_reason"`
	BroadcastWindowStart *time.Time `xml:"broadcast_window_start_timestamp"`
}

// SubscriptionVersionData pairs a record key with its data, as carried in
// query replies.
type SubscriptionVersionData struct {
	TNVersionID TNVersionID      `xml:"subscription_tn_version_id"`
	Data        SubscriptionData `xml:"subscription_data"`
}

// SVCreateDownload creates or updates a subscription version at the BDO.
type SVCreateDownload struct {
	TNVersionID TNVersionID      `xml:"subscription_tn_version_id"`
	Data        SubscriptionData `xml:"subscription_data"`
}

func (SVCreateDownload) CommandTag() string { return "SVCreateDownload" }

// SVDeleteDownload marks a subscription version as deleted at the BDO.
type SVDeleteDownload struct {
	VersionID int64                  `xml:"subscription_version_id"`
	Data      SubscriptionDeleteData `xml:"subscription_delete_data"`
}

func (SVDeleteDownload) CommandTag() string { return "SVDeleteDownload" }

// QueryBdoSVs asks the BDO for subscription versions matching a filter
// expression (see the filter package for the expression language).
type QueryBdoSVs struct {
	QueryExpression string `xml:"query_expression"`
}

func (QueryBdoSVs) CommandTag() string { return "QueryBdoSVs" }

// SVDownloadReply acknowledges an SVCreateDownload or SVDeleteDownload.
// Status 0 means the download was applied.
type SVDownloadReply struct {
	Status    int    `xml:"status"`
	ErrorInfo string `xml:"error_info,omitempty"`
}

func (SVDownloadReply) CommandTag() string { return "SVDownloadReply" }

// QueryBdoSVsReply carries the result set of a QueryBdoSVs.
type QueryBdoSVsReply struct {
	SVList []SubscriptionVersionData `xml:"subscription_version_list>subscription_version_data"`
}

func (QueryBdoSVsReply) CommandTag() string { return "QueryBdoSVsReply" }

// SVQueryReply is the counterpart's answer to a query the BDO originated.
// It is logged and acknowledged, nothing more.
type SVQueryReply struct {
	SVList []SubscriptionVersionData `xml:"subscription_version_list>subscription_version_data"`
}

func (SVQueryReply) CommandTag() string { return "SVQueryReply" }

// BDRError reports a processing failure at the relay for an earlier message.
type BDRError struct {
	ErrorInfo string `xml:"error_info"`
}

func (BDRError) CommandTag() string { return "BDRError" }

// bodyFactories enumerates every legal command tag.
var bodyFactories = map[string]func() Body{
	"SVCreateDownload": func() Body { return &SVCreateDownload{} },
	"SVDeleteDownload": func() Body { return &SVDeleteDownload{} },
	"QueryBdoSVs":      func() Body { return &QueryBdoSVs{} },
	"SVDownloadReply":  func() Body { return &SVDownloadReply{} },
	"QueryBdoSVsReply": func() Body { return &QueryBdoSVsReply{} },
	"SVQueryReply":     func() Body { return &SVQueryReply{} },
	"BDRError":         func() Body { return &BDRError{} },
}

// allowedTags restricts which command tags may travel on each direction.
var allowedTags = map[Direction]map[string]bool{
	BDRtoBDO: {
		"SVCreateDownload": true,
		"SVDeleteDownload": true,
		"QueryBdoSVs":      true,
		"SVQueryReply":     true,
		"BDRError":         true,
	},
	SPGtoBDO: {
		"SVCreateDownload": true,
		"SVDeleteDownload": true,
		"QueryBdoSVs":      true,
		"SVQueryReply":     true,
		"BDRError":         true,
	},
	BDOtoBDR: {
		"SVDownloadReply":  true,
		"QueryBdoSVsReply": true,
	},
	BDOtoSPG: {
		"SVDownloadReply":  true,
		"QueryBdoSVsReply": true,
	},
}

// SchemaError reports a wire document that does not conform to the message
// schema. Documents failing with SchemaError are rejected before persistence.
type SchemaError struct {
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("schema error: %s", e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }

func schemaErrorf(err error, format string, args ...any) *SchemaError {
	return &SchemaError{Reason: fmt.Sprintf(format, args...), Err: err}
}
