package convertkit

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/kitbridge/internal/model"
)

// DefaultErrorCode はレスポンスにエラー理由が含まれない場合のコード。
const DefaultErrorCode = "generic_api_error"

// ErrUnexpectedResponseShape はレスポンスの形式が想定と異なる場合のエラー。
var ErrUnexpectedResponseShape = errors.New("unexpected response shape from ConvertKit API")

// APIError はConvertKit APIが200以外を返した場合のエラー。
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return e.Message
}

// TransportError はDNS・タイムアウト・TLSなどの通信レベルの失敗。
type TransportError struct {
	Path string
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.Path, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *TransportError) Unwrap() error {
	return e.Err
}

// newAPIError は非200レスポンスのボディから error.message と error.errors.reason を取り出す。
// どちらも無い場合は既定値を使う。
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		Code:       DefaultErrorCode,
		Message:    fmt.Sprintf("Expected response code: 200. Returned response code: %d.", status),
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return apiErr
	}
	if msg, ok := lookupString(doc, "error", "message"); ok {
		apiErr.Message = msg
	}
	if reason, ok := lookupString(doc, "error", "errors", "reason"); ok {
		apiErr.Code = reason
	}
	return apiErr
}

// lookupString はネストしたマップから空でない文字列を取り出す。
func lookupString(doc map[string]any, keys ...string) (string, bool) {
	var cur any = doc
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur = m[k]
	}
	s, ok := cur.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Kind はエラーをドメインのエラー分類に変換する。
func Kind(err error) model.ErrorKind {
	var apiErr *APIError
	var transportErr *TransportError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnexpectedResponseShape):
		return model.KindUnexpectedResponseShape
	case errors.As(err, &apiErr):
		return model.KindRemoteAPI
	case errors.As(err, &transportErr):
		return model.KindTransport
	default:
		return model.KindRemoteFetch
	}
}
