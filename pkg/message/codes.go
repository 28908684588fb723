// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import "github.com/plgd-dev/go-coap/v3/message/codes"

// Code is the 8-bit class.detail code carried by every CoAP message.
// It is a type alias for codes.Code so values constructed here
// interoperate with code anywhere the plgd-dev/go-coap ecosystem is
// already in play.
type Code = codes.Code

// Request codes. GET/POST/PUT/DELETE are the same constants the mProxy
// CoAP parser switches on; Fetch/Patch/IPatch extend the method set per
// RFC 8132 and are not exported by every CoAP library, so they are
// defined locally from the registered method-code values.
const (
	GET    = codes.GET
	POST   = codes.POST
	PUT    = codes.PUT
	DELETE = codes.DELETE
	FETCH  = Code(5)
	PATCH  = Code(6)
	IPATCH = Code(7)
)

// Empty is the 0.00 code carried by empty ACK/RST/ping messages.
const Empty = Code(0)

// Response codes, built as (class<<5)|detail per RFC 7252 §3. Kept as
// local constants rather than re-exported library symbols so the codec
// in pkg/codec never depends on anything beyond the Code type and the
// four request constants above.
func respCode(class, detail uint8) Code {
	return Code(class<<5 | detail)
}

var (
	Created                  = respCode(2, 1)
	Deleted                  = respCode(2, 2)
	Valid                    = respCode(2, 3)
	Changed                  = respCode(2, 4)
	Content                  = respCode(2, 5)
	Continue                 = respCode(2, 31)
	BadRequest                = respCode(4, 0)
	Unauthorized              = respCode(4, 1)
	BadOption                 = respCode(4, 2)
	Forbidden                 = respCode(4, 3)
	NotFound                  = respCode(4, 4)
	MethodNotAllowed          = respCode(4, 5)
	NotAcceptable             = respCode(4, 6)
	RequestEntityIncomplete   = respCode(4, 8)
	Conflict                  = respCode(4, 9)
	PreconditionFailed        = respCode(4, 12)
	RequestEntityTooLarge     = respCode(4, 13)
	UnsupportedContentFormat  = respCode(4, 15)
	InternalServerError       = respCode(5, 0)
	NotImplemented            = respCode(5, 1)
	BadGateway                = respCode(5, 2)
	ServiceUnavailable        = respCode(5, 3)
	GatewayTimeout            = respCode(5, 4)
	ProxyingNotSupported      = respCode(5, 5)
)

// Class returns the code's class (the "2" in "2.05").
func Class(c Code) uint8 {
	return uint8(c) >> 5
}

// Detail returns the code's detail (the "05" in "2.05").
func Detail(c Code) uint8 {
	return uint8(c) & 0x1f
}

// IsSuccess reports whether c is a 2.xx class code.
func IsSuccess(c Code) bool {
	return Class(c) == 2
}

// CodeString renders a code in the conventional "class.detail" form.
func CodeString(c Code) string {
	const digits = "0123456789"
	cl := Class(c)
	d := Detail(c)
	buf := [4]byte{digits[cl], '.', digits[d/10], digits[d%10]}
	return string(buf[:])
}
