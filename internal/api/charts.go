package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"wordassoc/pkg/types"
)

// maxTimelinePoints caps the activity timeline so a large class does not
// produce an unreadable chart.
const maxTimelinePoints = 50

func (s *Server) handleChartsTests(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	summaries, err := s.store.ListFinishedTests(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if summaries == nil {
		summaries = []*types.TestSummary{}
	}

	c.JSON(http.StatusOK, gin.H{"tests": summaries})
}

func (s *Server) handleChartsLatest(c *gin.Context) {
	test, err := s.store.LatestFinishedTest(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if test == nil {
		c.JSON(http.StatusOK, gin.H{"test": nil})
		return
	}

	s.respondChartData(c, test.ID)
}

func (s *Server) handleChartsData(c *gin.Context) {
	id, ok := s.testIDParam(c)
	if !ok {
		return
	}
	s.respondChartData(c, id)
}

func (s *Server) respondChartData(c *gin.Context, testID int64) {
	ctx := c.Request.Context()

	stats, err := s.store.TestStatistics(ctx, testID)
	if err != nil {
		respondError(c, err)
		return
	}

	words, err := s.store.WordFrequency(ctx, testID)
	if err != nil {
		respondError(c, err)
		return
	}
	if words == nil {
		words = []*types.WordCount{}
	}

	c.JSON(http.StatusOK, gin.H{
		"test":        stats.Test,
		"userCount":   stats.UserCount,
		"totalWords":  stats.TotalWords,
		"uniqueWords": stats.UniqueWords,
		"words":       words,
	})
}

type timelinePoint struct {
	Time  time.Time `json:"time"`
	Count int       `json:"count"`
}

// handleChartsTimeline returns cumulative response counts over the run of
// a test, downsampled to at most maxTimelinePoints.
func (s *Server) handleChartsTimeline(c *gin.Context) {
	id, ok := s.testIDParam(c)
	if !ok {
		return
	}

	if _, err := s.store.GetTest(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	responses, err := s.store.TestResponses(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	points := make([]timelinePoint, len(responses))
	for i, r := range responses {
		points[i] = timelinePoint{Time: r.CreatedAt, Count: i + 1}
	}

	if len(points) > maxTimelinePoints {
		// Keep the last point of each chunk so the final count survives.
		chunkSize := (len(points) + maxTimelinePoints - 1) / maxTimelinePoints
		points = lo.Map(lo.Chunk(points, chunkSize), func(chunk []timelinePoint, _ int) timelinePoint {
			return chunk[len(chunk)-1]
		})
	}

	c.JSON(http.StatusOK, gin.H{"points": points})
}

// handleChartsExport streams one test's responses as CSV. The UTF-8 BOM is
// there so spreadsheet imports detect the encoding.
func (s *Server) handleChartsExport(c *gin.Context) {
	id, ok := s.testIDParam(c)
	if !ok {
		return
	}

	test, err := s.store.GetTest(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	responses, err := s.store.TestResponses(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("test-%d-%s.csv", test.ID, test.Word)))

	if _, err := c.Writer.Write([]byte("\xEF\xBB\xBF")); err != nil {
		return
	}

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"username", "word", "position", "submitted_at"})
	for _, r := range responses {
		_ = w.Write([]string{
			r.Username,
			r.Word,
			strconv.Itoa(r.Position),
			r.CreatedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
}
