package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	tenantdb "github.com/nao1215/tenantdesk/internal/tenant/db"
	"github.com/nao1215/tenantdesk/pkg/middleware"
)

var (
	// ErrElementExists は要素が既にサイドバーに存在することを表す。
	ErrElementExists = errors.New("要素は既にサイドバーに存在します")
	// ErrElementNotFound は要素がサイドバーまたはカタログに存在しないことを表す。
	ErrElementNotFound = errors.New("要素が見つかりません")
	// ErrElementRequired はテンプレートの必須要素を削除しようとしたことを表す。
	ErrElementRequired = errors.New("必須要素は削除できません")
)

// sidebarRequiredRoles はサイドバー要素の閲覧に必要なロール。
var sidebarRequiredRoles = []string{"admin", "super_admin"}

// SidebarElement は実効サイドバーの1要素。
type SidebarElement struct {
	ID             string   `json:"id"`
	Label          string   `json:"label"`
	Icon           string   `json:"icon"`
	Href           string   `json:"href"`
	Category       string   `json:"category"`
	OrderIndex     int64    `json:"order_index"`
	RequiredRoles  []string `json:"required_roles"`
	IsFromTemplate bool     `json:"is_from_template"`
	IsRequired     bool     `json:"is_required"`
	Removable      bool     `json:"removable"`
}

// EffectiveSidebar はテンプレートのサイドバー設定にテナントの上書き設定を適用した結果を返す。
// REMOVEされたテンプレート要素を除き、ADD要素を加え、order_index、要素IDの順に並べる。
func EffectiveSidebar(configs []tenantdb.TemplateSidebarConfig, overrides []tenantdb.SidebarOverride) []SidebarElement {
	removed := make(map[string]bool)
	for _, o := range overrides {
		if o.Action == tenantdb.OverrideRemove {
			removed[o.ElementID] = true
		}
	}

	out := make([]SidebarElement, 0, len(configs)+len(overrides))
	seen := make(map[string]bool)
	for _, cfg := range configs {
		if removed[cfg.ElementID] {
			continue
		}
		seen[cfg.ElementID] = true
		out = append(out, SidebarElement{
			ID:             cfg.ElementID,
			Label:          cfg.Label,
			Icon:           cfg.Icon,
			Href:           cfg.Href,
			Category:       cfg.Category,
			OrderIndex:     cfg.OrderIndex,
			RequiredRoles:  sidebarRequiredRoles,
			IsFromTemplate: true,
			IsRequired:     cfg.IsRequired,
			Removable:      !cfg.IsRequired,
		})
	}
	for _, o := range overrides {
		if o.Action != tenantdb.OverrideAdd || seen[o.ElementID] {
			continue
		}
		seen[o.ElementID] = true
		out = append(out, SidebarElement{
			ID:            o.ElementID,
			Label:         o.Label,
			Icon:          o.Icon,
			Href:          o.Href,
			Category:      o.Category,
			OrderIndex:    o.OrderIndex,
			RequiredRoles: sidebarRequiredRoles,
			Removable:     true,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// tenantSidebarState はサイドバー編集に必要なテナントの状態。
type tenantSidebarState struct {
	configs   []tenantdb.TemplateSidebarConfig
	overrides []tenantdb.SidebarOverride
	current   []SidebarElement
}

func (st tenantSidebarState) find(elementID string) (SidebarElement, bool) {
	for _, e := range st.current {
		if e.ID == elementID {
			return e, true
		}
	}
	return SidebarElement{}, false
}

func (st tenantSidebarState) hasOverride(elementID, action string) bool {
	for _, o := range st.overrides {
		if o.ElementID == elementID && o.Action == action {
			return true
		}
	}
	return false
}

func (st tenantSidebarState) inTemplate(elementID string) bool {
	for _, c := range st.configs {
		if c.ElementID == elementID {
			return true
		}
	}
	return false
}

func (st tenantSidebarState) maxOrder() int64 {
	var m int64
	for _, e := range st.current {
		if e.OrderIndex > m {
			m = e.OrderIndex
		}
	}
	return m
}

func (s *Server) loadSidebarState(ctx context.Context, q *tenantdb.Queries, t tenantdb.Tenant) (tenantSidebarState, error) {
	configs, err := q.ListTemplateSidebarConfigs(ctx, t.TemplateID)
	if err != nil {
		return tenantSidebarState{}, fmt.Errorf("テンプレートサイドバー設定の取得に失敗: %w", err)
	}
	overrides, err := q.ListSidebarOverrides(ctx, t.ID)
	if err != nil {
		return tenantSidebarState{}, fmt.Errorf("サイドバー上書き設定の取得に失敗: %w", err)
	}
	return tenantSidebarState{
		configs:   configs,
		overrides: overrides,
		current:   EffectiveSidebar(configs, overrides),
	}, nil
}

// AddSidebarElement はテナントのサイドバーに要素を追加する。
// 現在のテンプレートの削除済み要素はREMOVE上書きを消して復元し、それ以外はカタログからADD上書きを作成する。
func (s *Server) AddSidebarElement(ctx context.Context, t tenantdb.Tenant, elementID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.queries.WithTx(tx)

	st, err := s.loadSidebarState(ctx, q, t)
	if err != nil {
		return err
	}
	if _, ok := st.find(elementID); ok {
		return ErrElementExists
	}

	if st.hasOverride(elementID, tenantdb.OverrideRemove) {
		if err := q.DeleteSidebarOverride(ctx, t.ID, elementID); err != nil {
			return fmt.Errorf("REMOVE上書きの削除に失敗: %w", err)
		}
		if st.inTemplate(elementID) {
			return tx.Commit()
		}
		// テンプレート変更前のREMOVE上書きは削除し、カタログからの追加として扱う
	}

	el, ok := s.catalog.Lookup(elementID)
	if !ok {
		return ErrElementNotFound
	}
	if err := q.UpsertSidebarOverride(ctx, tenantdb.UpsertSidebarOverrideParams{
		TenantID:   t.ID,
		ElementID:  el.ID,
		Action:     tenantdb.OverrideAdd,
		Label:      el.Label,
		Icon:       el.Icon,
		Href:       el.Href,
		Category:   el.Category,
		OrderIndex: st.maxOrder() + 1,
		Now:        s.now(),
	}); err != nil {
		return fmt.Errorf("ADD上書きの作成に失敗: %w", err)
	}
	return tx.Commit()
}

// RemoveSidebarElement はテナントのサイドバーから要素を削除する。
// ADD要素は上書きを削除し、テンプレート要素にはREMOVE上書きを作成する。
func (s *Server) RemoveSidebarElement(ctx context.Context, t tenantdb.Tenant, elementID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.queries.WithTx(tx)

	st, err := s.loadSidebarState(ctx, q, t)
	if err != nil {
		return err
	}
	el, ok := st.find(elementID)
	if !ok {
		return ErrElementNotFound
	}
	if !el.Removable {
		return ErrElementRequired
	}

	if el.IsFromTemplate {
		err = q.UpsertSidebarOverride(ctx, tenantdb.UpsertSidebarOverrideParams{
			TenantID:  t.ID,
			ElementID: elementID,
			Action:    tenantdb.OverrideRemove,
			Now:       s.now(),
		})
	} else {
		err = q.DeleteSidebarOverride(ctx, t.ID, elementID)
	}
	if err != nil {
		return fmt.Errorf("サイドバー上書きの更新に失敗: %w", err)
	}
	return tx.Commit()
}

// handleGetTenantSidebar は呼び出し元テナントの実効サイドバーを返すハンドラを返す。
func (s *Server) handleGetTenantSidebar() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := s.lookupTenant(c, middleware.TenantID(c))
		if !ok {
			return
		}
		st, err := s.loadSidebarState(c.Request.Context(), s.queries, t)
		if err != nil {
			s.log.Error("サイドバー取得エラー", "tenant_id", t.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サイドバーの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, st.current)
	}
}

// handleGetTenantSidebarAdmin はスーパー管理者向けにテナントのサイドバー編集情報を返すハンドラを返す。
func (s *Server) handleGetTenantSidebarAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		t, ok := s.lookupTenant(c, c.Param("id"))
		if !ok {
			return
		}
		tpl, err := s.queries.GetTemplateByID(ctx, t.TemplateID)
		if err != nil {
			s.log.Error("テンプレート取得エラー", "tenant_id", t.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サイドバーの取得に失敗しました"})
			return
		}
		st, err := s.loadSidebarState(ctx, s.queries, t)
		if err != nil {
			s.log.Error("サイドバー取得エラー", "tenant_id", t.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サイドバーの取得に失敗しました"})
			return
		}

		available := make([]CatalogElement, 0)
		for _, e := range s.catalog.Elements() {
			if _, present := st.find(e.ID); !present {
				available = append(available, e)
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"tenant": gin.H{
				"id":    t.ID,
				"name":  t.Name,
				"email": t.Email,
				"template": gin.H{
					"id":           tpl.ID,
					"name":         tpl.Name,
					"display_name": tpl.DisplayName,
					"category":     tpl.Category,
				},
			},
			"current_elements":   st.current,
			"available_elements": available,
		})
	}
}

// sidebarElementRequest はサイドバー要素追加リクエストのJSON構造。
type sidebarElementRequest struct {
	ElementID string `json:"element_id" binding:"required"`
}

// handleAddSidebarElement はテナントのサイドバーへの要素追加を処理するハンドラを返す。
func (s *Server) handleAddSidebarElement() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sidebarElementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "element_idが必要です"})
			return
		}
		t, ok := s.lookupTenant(c, c.Param("id"))
		if !ok {
			return
		}

		err := s.AddSidebarElement(c.Request.Context(), t, req.ElementID)
		switch {
		case errors.Is(err, ErrElementNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "カタログに存在しない要素です"})
		case errors.Is(err, ErrElementExists):
			c.JSON(http.StatusBadRequest, gin.H{"error": "要素は既にサイドバーに存在します"})
		case err != nil:
			s.log.Error("サイドバー要素追加エラー", "tenant_id", t.ID, "element_id", req.ElementID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サイドバー要素の追加に失敗しました"})
		default:
			s.respondSidebar(c, t, http.StatusCreated)
		}
	}
}

// handleRemoveSidebarElement はテナントのサイドバーからの要素削除を処理するハンドラを返す。
func (s *Server) handleRemoveSidebarElement() gin.HandlerFunc {
	return func(c *gin.Context) {
		elementID := c.Query("element_id")
		if elementID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "element_idパラメータが必要です"})
			return
		}
		t, ok := s.lookupTenant(c, c.Param("id"))
		if !ok {
			return
		}

		err := s.RemoveSidebarElement(c.Request.Context(), t, elementID)
		switch {
		case errors.Is(err, ErrElementNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "サイドバーに存在しない要素です"})
		case errors.Is(err, ErrElementRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": "必須要素は削除できません"})
		case err != nil:
			s.log.Error("サイドバー要素削除エラー", "tenant_id", t.ID, "element_id", elementID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サイドバー要素の削除に失敗しました"})
		default:
			s.respondSidebar(c, t, http.StatusOK)
		}
	}
}

func (s *Server) respondSidebar(c *gin.Context, t tenantdb.Tenant, status int) {
	st, err := s.loadSidebarState(c.Request.Context(), s.queries, t)
	if err != nil {
		s.log.Error("サイドバー取得エラー", "tenant_id", t.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "サイドバーの取得に失敗しました"})
		return
	}
	c.JSON(status, gin.H{"current_elements": st.current})
}

// lookupTenant はIDでテナントを取得する。見つからない場合は404を返しfalseを返す。
func (s *Server) lookupTenant(c *gin.Context, id string) (tenantdb.Tenant, bool) {
	t, err := s.queries.GetTenantByID(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "テナントが見つかりません"})
		return tenantdb.Tenant{}, false
	}
	if err != nil {
		s.log.Error("テナント取得エラー", "tenant_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "テナントの取得に失敗しました"})
		return tenantdb.Tenant{}, false
	}
	return t, true
}
