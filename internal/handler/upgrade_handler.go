package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/kitbridge/internal/legacy"
)

// UpgraderInterface は旧アドオンからの移行を実行する。*legacy.Migrator が満たす。
type UpgraderInterface interface {
	Upgrade(ctx context.Context) (*legacy.Report, error)
}

// UpgradeHandler は旧アドオン移行のHTTPハンドラー。
type UpgradeHandler struct {
	upgrader UpgraderInterface
}

// NewUpgradeHandler はUpgradeHandlerを生成する。
func NewUpgradeHandler(upgrader UpgraderInterface) *UpgradeHandler {
	return &UpgradeHandler{upgrader: upgrader}
}

// Upgrade は旧アドオンの無効化、認証情報の引き継ぎ、フィード移行を実行する。
// 冪等なため、繰り返し呼び出してよい。
// POST /api/admin/upgrade
func (h *UpgradeHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	report, err := h.upgrader.Upgrade(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("legacy upgrade completed",
		slog.Bool("deactivated", report.Deactivated),
		slog.Bool("populated_keys", report.PopulatedKeys),
		slog.Int("migrated_feeds", len(report.MigratedFeeds)),
	)
	writeJSON(w, http.StatusOK, report)
}
