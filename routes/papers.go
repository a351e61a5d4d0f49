package routes

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"paper-ingest-platform/internal/analyzer"
	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/store"
	"paper-ingest-platform/internal/vector"
	"paper-ingest-platform/models"
	"paper-ingest-platform/utils"
)

// SetupPaperRoutes registers paper retrieval and search endpoints.
func SetupPaperRoutes(
	router *gin.Engine,
	cfg *config.Config,
	st *store.Store,
	vectors vector.Store,
	embedder analyzer.Embedder,
) {
	router.GET("/papers", func(c *gin.Context) {
		limit := queryInt(c, "limit", 50)
		offset := queryInt(c, "offset", 0)
		papers, err := st.ListPapers(limit, offset)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list papers", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"papers": paperSummaries(papers), "limit": limit, "offset": offset})
	})

	router.GET("/paper/:id", func(c *gin.Context) {
		paper, err := st.GetPaper(c.Param("id"))
		if err != nil {
			respondStoreError(c, err, "Paper not found")
			return
		}
		c.JSON(http.StatusOK, paperSummary(paper))
	})

	router.GET("/text/:id", func(c *gin.Context) {
		paper, err := st.GetPaper(c.Param("id"))
		if err != nil {
			respondStoreError(c, err, "Paper not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"doc_id":     paper.DocID,
			"text":       paper.ExtractedText,
			"language":   paper.Language,
			"page_count": paper.PageCount,
		})
	})

	router.GET("/metadata/:id", func(c *gin.Context) {
		meta, err := st.GetMetadata(c.Param("id"))
		if err != nil {
			respondStoreError(c, err, "No metadata for this paper")
			return
		}
		c.JSON(http.StatusOK, meta)
	})

	router.GET("/layout/:id", func(c *gin.Context) {
		layout, err := st.GetLayout(c.Param("id"))
		if err != nil {
			respondStoreError(c, err, "No layout analysis for this paper")
			return
		}
		c.JSON(http.StatusOK, layout)
	})

	router.GET("/embedding/:id", func(c *gin.Context) {
		docID := c.Param("id")
		vec, err := vectors.Get(c.Request.Context(), docID)
		if err != nil {
			respondStoreError(c, err, "No embedding for this paper")
			return
		}
		c.JSON(http.StatusOK, gin.H{"doc_id": docID, "dimension": len(vec), "vector": vec})
	})

	router.GET("/embedding/:id/pages", func(c *gin.Context) {
		pages, err := st.GetPageEmbeddings(c.Param("id"))
		if err != nil {
			respondStoreError(c, err, "No page embeddings for this paper")
			return
		}
		c.JSON(http.StatusOK, gin.H{"doc_id": c.Param("id"), "pages": pages})
	})

	router.GET("/embedding/:id/page/:n", func(c *gin.Context) {
		n, err := strconv.Atoi(c.Param("n"))
		if err != nil || n < 1 {
			utils.RespondWithBadRequest(c, "Page number must be a positive integer", nil)
			return
		}
		page, err := st.GetPageEmbedding(c.Param("id"), n)
		if err != nil {
			respondStoreError(c, err, "No embedding for this page")
			return
		}
		c.JSON(http.StatusOK, page)
	})

	router.GET("/preview/:id", func(c *gin.Context) {
		docID := c.Param("id")
		imagePath := filepath.Join(cfg.FileStorageDir, "images", docID+"_page1.png")
		if _, err := os.Stat(imagePath); err != nil {
			utils.RespondWithNotFound(c, "No preview image for this paper")
			return
		}
		c.File(imagePath)
	})

	router.GET("/download/:id", func(c *gin.Context) {
		paper, err := st.GetPaper(c.Param("id"))
		if err != nil {
			respondStoreError(c, err, "Paper not found")
			return
		}
		if _, err := os.Stat(paper.StoredPath); err != nil {
			utils.RespondWithNotFound(c, "Stored PDF is missing")
			return
		}
		c.FileAttachment(paper.StoredPath, paper.Filename)
	})

	router.GET("/search", func(c *gin.Context) {
		year := queryInt(c, "year", 0)
		limit := queryInt(c, "limit", 20)
		offset := queryInt(c, "offset", 0)
		papers, err := st.SearchPapers(c.Query("q"), c.Query("title"), c.Query("author"), year, limit, offset)
		if err != nil {
			utils.RespondWithInternalError(c, "Search failed", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": paperSummaries(papers), "count": len(papers)})
	})

	router.POST("/search/vector", func(c *gin.Context) {
		var req struct {
			Query string `json:"query" binding:"required"`
			Limit int    `json:"limit"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", gin.H{"error": err.Error()})
			return
		}
		if embedder == nil {
			utils.RespondWithUnavailable(c, "Embedding service is not configured")
			return
		}
		if req.Limit <= 0 || req.Limit > 100 {
			req.Limit = 10
		}

		vec, err := embedder.Embed(c.Request.Context(), req.Query)
		if err != nil {
			var cap *models.CapabilityUnavailable
			if errors.As(err, &cap) {
				utils.RespondWithUnavailable(c, "Embedding service is unavailable")
				return
			}
			utils.RespondWithInternalError(c, "Failed to embed query", gin.H{"error": err.Error()})
			return
		}
		matches, err := vectors.Search(c.Request.Context(), vec, req.Limit)
		if err != nil {
			utils.RespondWithInternalError(c, "Vector search failed", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": matchResults(c, st, matches)})
	})

	router.GET("/similar/:id", func(c *gin.Context) {
		docID := c.Param("id")
		limit := queryInt(c, "limit", 10)
		vec, err := vectors.Get(c.Request.Context(), docID)
		if err != nil {
			respondStoreError(c, err, "No embedding for this paper")
			return
		}
		matches, err := vectors.Search(c.Request.Context(), vec, limit+1)
		if err != nil {
			utils.RespondWithInternalError(c, "Vector search failed", gin.H{"error": err.Error()})
			return
		}
		filtered := matches[:0]
		for _, m := range matches {
			if m.DocID != docID {
				filtered = append(filtered, m)
			}
		}
		if len(filtered) > limit {
			filtered = filtered[:limit]
		}
		c.JSON(http.StatusOK, gin.H{"doc_id": docID, "results": matchResults(c, st, filtered)})
	})
}

// paperSummary strips the extracted text from list and detail responses;
// the text endpoint serves it on demand.
func paperSummary(p *models.Paper) gin.H {
	return gin.H{
		"doc_id":                 p.DocID,
		"filename":               p.Filename,
		"page_count":             p.PageCount,
		"language":               p.Language,
		"ocr_quality_label":      p.OCRQualityLabel,
		"ocr_quality_completed":  p.OCRQualityCompleted,
		"layout_completed":       p.LayoutCompleted,
		"metadata_llm_completed": p.MetadataLLMCompleted,
		"content_id":             p.ContentID,
		"has_text":               p.ExtractedText != "",
		"created_at":             p.CreatedAt,
		"processed_at":           p.ProcessedAt,
	}
}

func paperSummaries(papers []*models.Paper) []gin.H {
	out := make([]gin.H, 0, len(papers))
	for _, p := range papers {
		out = append(out, paperSummary(p))
	}
	return out
}

func matchResults(c *gin.Context, st *store.Store, matches []vector.Match) []gin.H {
	out := make([]gin.H, 0, len(matches))
	for _, m := range matches {
		entry := gin.H{"doc_id": m.DocID, "score": m.Score}
		if paper, err := st.GetPaper(m.DocID); err == nil {
			entry["filename"] = paper.Filename
			entry["page_count"] = paper.PageCount
		}
		out = append(out, entry)
	}
	return out
}

func respondStoreError(c *gin.Context, err error, notFoundMsg string) {
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		utils.RespondWithNotFound(c, notFoundMsg)
		return
	}
	utils.RespondWithInternalError(c, "Storage error", gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, name string, def int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
