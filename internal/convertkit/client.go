// Package convertkit はConvertKit v3 REST APIのクライアントを提供する。
// フォーム・タグ・カスタムフィールドの取得と購読登録を行う。
package convertkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/kitbridge/internal/model"
)

const (
	// DefaultBaseURL はConvertKit APIのベースURL。
	DefaultBaseURL = "https://api.convertkit.com/"
	// DefaultTimeout はリクエストタイムアウトの既定値。
	DefaultTimeout = 30 * time.Second

	pathForms           = "v3/forms"
	pathTags            = "v3/tags"
	pathCustomFields    = "v3/custom_fields"
	pathRecommendations = "wordpress/recommendations_script"

	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 5 << 20
)

// Credentials はAPI認証情報。両方ある場合はSecretを優先する。
type Credentials struct {
	APIKey    string
	APISecret string
}

// param は認証に使うパラメータ名と値を返す。
func (c Credentials) param() (string, string) {
	if c.APISecret != "" {
		return "api_secret", c.APISecret
	}
	return "api_key", c.APIKey
}

// RequestRecorder はAPI呼び出しの結果を記録するインターフェース。
// statusはトランスポートエラー時に0となる。
type RequestRecorder interface {
	RecordAPIRequest(path string, status int, latency time.Duration)
}

// SubscribeRequest は購読登録のパラメータ。
// Fields と TagIDs は空の場合リクエストボディから省略される。
type SubscribeRequest struct {
	FormID    string
	Email     string
	FirstName string
	Fields    map[string]string
	TagIDs    []int64
}

// Client はConvertKit APIのクライアント。
// 認証情報とベースURLのみを保持し、リクエスト間で状態を持たない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	creds      Credentials
	limiter    *rate.Limiter
	recorder   RequestRecorder
}

// Option はClientの設定オプション。
type Option func(*Client)

// WithBaseURL はベースURLを差し替える。末尾のスラッシュは補完される。
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		c.baseURL = baseURL
	}
}

// WithRateLimiter はリクエスト送信前に待機するレートリミッターを設定する。
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithRecorder はAPI呼び出し結果の記録先を設定する。
func WithRecorder(r RequestRecorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientがnilの場合は30秒タイムアウトのクライアントを使う。
func NewClient(httpClient *http.Client, logger *slog.Logger, creds Credentials, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    DefaultBaseURL,
		creds:      creds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListForms はアカウントのフォーム一覧を取得する。
func (c *Client) ListForms(ctx context.Context) ([]model.RemoteForm, error) {
	body, err := c.get(ctx, pathForms)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Forms []model.RemoteForm `json:"forms"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("フォーム一覧のパースに失敗しました: %w", err)
	}
	if resp.Forms == nil {
		resp.Forms = []model.RemoteForm{}
	}
	return resp.Forms, nil
}

// ListTags はアカウントのタグ一覧を取得する。
// tagsが配列でない場合はErrUnexpectedResponseShapeを返す。空配列の場合は空スライスを返す。
func (c *Client) ListTags(ctx context.Context) ([]model.RemoteTag, error) {
	body, err := c.get(ctx, pathTags)
	if err != nil {
		return nil, err
	}

	raw, err := collection(body, "tags")
	if err != nil {
		return nil, err
	}

	var tags []model.RemoteTag
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("タグ一覧のパースに失敗しました: %w", err)
	}
	return uniqueByID(tags, func(t model.RemoteTag) int64 { return t.ID }), nil
}

// ListCustomFields はアカウントのカスタムフィールド定義を取得する。
// 形式の検証規則はListTagsと同じ。
func (c *Client) ListCustomFields(ctx context.Context) ([]model.RemoteCustomField, error) {
	body, err := c.get(ctx, pathCustomFields)
	if err != nil {
		return nil, err
	}

	raw, err := collection(body, "custom_fields")
	if err != nil {
		return nil, err
	}

	var fields []model.RemoteCustomField
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("カスタムフィールド一覧のパースに失敗しました: %w", err)
	}
	return uniqueByID(fields, func(f model.RemoteCustomField) int64 { return f.ID }), nil
}

// RecommendationsScript はCreator Network Recommendationsの設定を取得する。
// 非公開エンドポイントのため、JSONデコード以外の検証は行わない。
func (c *Client) RecommendationsScript(ctx context.Context) (*model.RecommendationsScript, error) {
	body, err := c.get(ctx, pathRecommendations)
	if err != nil {
		return nil, err
	}

	var script model.RecommendationsScript
	if err := json.Unmarshal(body, &script); err != nil {
		return nil, fmt.Errorf("recommendationsスクリプト設定のパースに失敗しました: %w", err)
	}
	return &script, nil
}

// Subscribe はメールアドレスを指定フォームに購読登録し、生のレスポンスを返す。
func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest) (json.RawMessage, error) {
	params := map[string]any{
		"email":      req.Email,
		"first_name": req.FirstName,
	}
	name, value := c.creds.param()
	params[name] = value

	if len(req.Fields) > 0 {
		params["fields"] = req.Fields
	}
	if len(req.TagIDs) > 0 {
		params["tags"] = req.TagIDs
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("購読リクエストのエンコードに失敗しました: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "v3/forms/"+url.PathEscape(req.FormID)+"/subscribe", payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// get はGETリクエストを送信する。認証情報はクエリパラメータに付与する。
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// do はAPIリクエストを1回だけ実行する。自動リトライは行わない。
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	c.logger.Debug("ConvertKit APIにリクエストします",
		slog.String("method", method),
		slog.String("path", path),
	)

	reqURL := c.baseURL + path
	if method == http.MethodGet {
		name, value := c.creds.param()
		reqURL += "?" + url.Values{name: []string{value}}.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json;ver=1.0")
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Path: path, Err: err}
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(path, 0, time.Since(start))
		c.logger.Error("ConvertKit APIの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, &TransportError{Path: path, Err: err}
	}
	defer resp.Body.Close()
	c.record(path, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Path: path, Err: fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := newAPIError(resp.StatusCode, body)
		c.logger.Error("ConvertKit APIで検証できませんでした",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("code", apiErr.Code),
			slog.String("message", apiErr.Message),
		)
		return nil, apiErr
	}

	return body, nil
}

func (c *Client) record(path string, status int, latency time.Duration) {
	if c.recorder != nil {
		c.recorder.RecordAPIRequest(path, status, latency)
	}
}

// collection はレスポンスから指定キーの配列を取り出す。配列でなければエラーを返す。
func collection(body []byte, key string) (json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponseShape, err)
	}
	raw := bytes.TrimSpace(envelope[key])
	if len(raw) == 0 || raw[0] != '[' {
		return nil, ErrUnexpectedResponseShape
	}
	return raw, nil
}

// uniqueByID はIDで一意化する。重複した場合は後の要素で先の位置を上書きする。
func uniqueByID[T any](items []T, id func(T) int64) []T {
	out := make([]T, 0, len(items))
	pos := make(map[int64]int, len(items))
	for _, it := range items {
		if i, ok := pos[id(it)]; ok {
			out[i] = it
			continue
		}
		pos[id(it)] = len(out)
		out = append(out, it)
	}
	return out
}
