package handler

import (
	"net/http"
	"strings"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/api/response"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/skill"
)

// SkillCatalog lists registered skills with their statistics
type SkillCatalog interface {
	List() []skill.Entry
	Search(query string) []skill.Entry
}

// SkillHandler serves the skill catalog
type SkillHandler struct {
	catalog SkillCatalog
}

// NewSkillHandler creates a new skill handler
func NewSkillHandler(catalog SkillCatalog) *SkillHandler {
	return &SkillHandler{catalog: catalog}
}

// List returns skills, optionally filtered by category and a search query
func (h *SkillHandler) List(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	var entries []skill.Entry
	if query != "" {
		entries = h.catalog.Search(query)
	} else {
		entries = h.catalog.List()
	}

	if category != "" {
		filtered := make([]skill.Entry, 0, len(entries))
		for _, e := range entries {
			if strings.EqualFold(e.Category, category) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	response.OK(w, map[string]any{
		"skills": entries,
		"total":  len(entries),
	})
}
