package model

// ページサイズの既定値と上限
const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// PageLimits は一覧取得のページサイズ設定。
type PageLimits struct {
	Default int
	Max     int
}

// Normalize はlimit/offsetを検証して補正する。
// limitが0以下の場合は既定値、上限超過は上限に丸める。負のoffsetは入力不備。
func (p PageLimits) Normalize(limit, offset int) (int, int, error) {
	def, maxSize := p.Default, p.Max
	if maxSize <= 0 {
		maxSize = MaxPageSize
	}
	if def <= 0 || def > maxSize {
		def = min(DefaultPageSize, maxSize)
	}

	if offset < 0 {
		return 0, 0, NewInvalidPaginationError("offset must not be negative")
	}
	if limit <= 0 {
		limit = def
	}
	if limit > maxSize {
		limit = maxSize
	}
	return limit, offset, nil
}
