package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewSafeClient_Timeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClient_Timeout(t *testing.T) {
	client := NewSSRFGuard().NewSafeClient(5 * time.Second)
	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("expected timeout %v, got %v", 5*time.Second, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("expected custom Transport")
	}
}

// TestNewSafeClient_BlocksLoopback はループバック宛てのWebhook送信がブロックされることをテストする。
func TestNewSafeClient_BlocksLoopback(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5 * time.Second)

	resp, err := client.Post(ts.URL, "application/json", nil)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected error for loopback address request, got nil")
	}
	if called {
		t.Error("ループバックのサーバーにリクエストが到達した")
	}
}

// TestValidateURL はWebhook送信先URLの静的検証をテストする。
func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://hooks.example.com/convertkit", false},
		{"http://example.org/webhook", false},
		{"", true},
		{"ftp://example.com/hook", true},
		{"javascript:alert(1)", true},
		{"https:///path", true},
		{"http://10.0.0.1/hook", true},
		{"http://172.16.0.1/hook", true},
		{"http://192.168.1.100/hook", true},
		{"http://127.0.0.1/hook", true},
		{"http://localhost:8080/hook", true},
		{"http://LOCALHOST/hook", true},
		{"http://169.254.169.254/latest/meta-data/", true},
		{"http://0.0.0.0/hook", true},
		{"http://[::1]/hook", true},
		{"http://[fd00::1]/hook", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
