// Package response interprets eportal login responses.
//
// The portal answers with JSON wrapped in parentheses, sometimes behind a
// JSONP callback name, and is not always well formed. Parsing is therefore
// substring and pattern based; success markers are checked before the msg
// field and win when both are present.
package response

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/st-keller/portal-client/types"
)

// Fixed outcome messages.
const (
	MsgLoginSucceeded   = "校园网登录成功！"
	MsgAlreadyConnected = "您已登录校园网"
	MsgUnknown          = "未知错误"
)

// Success markers, matched independent of field order.
const (
	markerResult  = `"result":"1"`
	markerRetCode = `"ret_code":"2"`
)

var (
	wrapperPattern = regexp.MustCompile(`\(\s*(\{[\s\S]*\})\s*\)`)
	msgPattern     = regexp.MustCompile(`"msg"\s*:\s*"([^"]+)"`)
)

// Extract strips the "(...)" or "callback(...)" wrapper from a raw body.
// Without a wrapper, a body longer than two characters loses its first and
// last character; shorter bodies are returned unchanged.
func Extract(raw string) string {
	if m := wrapperPattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if utf8.RuneCountInString(raw) > 2 {
		runes := []rune(raw)
		return string(runes[1 : len(runes)-1])
	}
	return raw
}

// Classify turns a raw login response body into an outcome.
func Classify(raw string) types.LoginOutcome {
	body := Extract(raw)

	if strings.Contains(body, markerResult) {
		return types.LoginOutcome{Success: true, Message: MsgLoginSucceeded, Kind: types.KindNone}
	}
	if strings.Contains(body, markerRetCode) {
		return types.LoginOutcome{Success: true, Message: MsgAlreadyConnected, Kind: types.KindNone}
	}

	if m := msgPattern.FindStringSubmatch(body); m != nil {
		return types.LoginOutcome{
			Success: false,
			Message: DecodeMessage(m[1]),
			Kind:    types.KindAuthenticationRejected,
		}
	}

	return types.LoginOutcome{Success: false, Message: MsgUnknown, Kind: types.KindProtocolError}
}

// DecodeMessage resolves a msg value: known token first, then base64 text,
// then the value itself.
func DecodeMessage(value string) string {
	if friendly, ok := KnownErrors[value]; ok {
		return friendly
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}
	return value
}
