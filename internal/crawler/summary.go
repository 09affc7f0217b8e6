package crawler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/thep200/release-crawler/internal/token"
)

type Stage string

const (
	StageSearch   Stage = "search"
	StageReleases Stage = "releases"
	StageCommits  Stage = "commits"
)

// StageStats đếm số fetch đã thử, thành công, bị skip và số bản ghi đã
// checkpoint của một stage
type StageStats struct {
	Attempted int
	Succeeded int
	Skipped   int
	Items     int
}

// Summary là báo cáo cuối run: thống kê từng stage và mức sử dụng từng token
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Tokens     []token.Status

	mu     sync.Mutex
	stages map[Stage]*StageStats
}

func NewSummary() *Summary {
	return &Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		stages: map[Stage]*StageStats{
			StageSearch:   {},
			StageReleases: {},
			StageCommits:  {},
		},
	}
}

func (s *Summary) Attempted(stage Stage) {
	s.mu.Lock()
	s.stages[stage].Attempted++
	s.mu.Unlock()
}

func (s *Summary) Succeeded(stage Stage) {
	s.mu.Lock()
	s.stages[stage].Succeeded++
	s.mu.Unlock()
}

func (s *Summary) Skipped(stage Stage) {
	s.mu.Lock()
	s.stages[stage].Skipped++
	s.mu.Unlock()
}

func (s *Summary) AddItems(stage Stage, n int) {
	s.mu.Lock()
	s.stages[stage].Items += n
	s.mu.Unlock()
}

// Stats trả về bản copy thống kê của một stage
func (s *Summary) Stats(stage Stage) StageStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.stages[stage]
}

func (s *Summary) Finish(tokens []token.Status) {
	s.mu.Lock()
	s.FinishedAt = time.Now()
	s.Tokens = tokens
	s.mu.Unlock()
}

// Render vẽ báo cáo dạng bảng: thống kê stage và mức sử dụng token
func (s *Summary) Render() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	stageTable := table.NewWriter()
	stageTable.SetStyle(table.StyleLight)
	stageTable.SetTitle("Run %s (%v)", s.RunID, s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	stageTable.AppendHeader(table.Row{"Stage", "Attempted", "Succeeded", "Skipped", "Items"})
	for _, stage := range []Stage{StageSearch, StageReleases, StageCommits} {
		st := s.stages[stage]
		stageTable.AppendRow(table.Row{string(stage), st.Attempted, st.Succeeded, st.Skipped, st.Items})
	}

	tokenTable := table.NewWriter()
	tokenTable.SetStyle(table.StyleLight)
	tokenTable.SetTitle("Token usage")
	tokenTable.AppendHeader(table.Row{"Token", "Remaining", "Success rate", "Status"})
	for i, t := range s.Tokens {
		total := t.SuccessCount + t.FailureCount
		rate := 0.0
		if total > 0 {
			rate = float64(t.SuccessCount) / float64(total)
		}
		status := "active"
		if t.IsCoolingDown {
			status = "cooling down"
		}
		tokenTable.AppendRow(table.Row{
			fmt.Sprintf("#%d", i+1),
			fmt.Sprintf("%d/%d", t.Remaining, t.Limit),
			fmt.Sprintf("%.2f%%", rate*100),
			status,
		})
	}

	return stageTable.Render() + "\n" + tokenTable.Render()
}
