// Package excel imports the question bank from spreadsheets and exports
// saved rankings to them.
package excel

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/example/dentalsrs/internal/batch"
	"github.com/example/dentalsrs/internal/cards"
	"github.com/example/dentalsrs/internal/clock"
	"github.com/example/dentalsrs/internal/database"
	"github.com/example/dentalsrs/internal/metrics"
	"github.com/example/dentalsrs/internal/retry"
	"github.com/example/dentalsrs/pkg/models"
)

// JobImport prefixes the per-file import job.
const JobImport = "import"

// MaxQuestionIDLength keeps question ids short enough for Telegram
// button payloads, which are capped at 64 bytes.
const MaxQuestionIDLength = 48

// questionNamespace derives stable ids for rows without one, so a
// re-import updates instead of duplicating.
var questionNamespace = uuid.MustParse("6f1c1a52-3f0e-4a43-9d59-3f7f8f0d2b61")

// ImportConfig defines the import configuration
type ImportConfig struct {
	FilePath       string // Path to the Excel or CSV file
	SheetName      string // Name of the sheet to import, first sheet when empty
	IDColumn       string // Column with the question id, may be empty
	SubjectColumn  string // Column with the subject
	QuestionColumn string // Column with the question text
	AnswerColumn   string // Column with the answer
	StartRow       int    // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		IDColumn:       "A",
		SubjectColumn:  "B",
		QuestionColumn: "C",
		AnswerColumn:   "D",
		StartRow:       2,
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int
	Imported       int
	Skipped        int
	Chunks         int
	Errors         []string
}

// QuestionWriter upserts question chunks with their checkpoint.
type QuestionWriter interface {
	PutChunk(ctx context.Context, qs []models.Question, cp *database.Checkpoint) error
}

// CheckpointStore reads and clears job checkpoints.
type CheckpointStore interface {
	Get(ctx context.Context, job string) (*database.Checkpoint, error)
	Clear(ctx context.Context, job string) error
}

// Importer loads question banks into the store in resumable chunks.
type Importer struct {
	Questions   QuestionWriter
	Checkpoints CheckpointStore
	Policy      retry.Policy
	BatchSize   int
	Clock       clock.Clock
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Import reads questions from an Excel or CSV file and upserts them. An
// interrupted import resumes after the last committed chunk.
func (im *Importer) Import(ctx context.Context, config ImportConfig) (*ImportResult, error) {
	log := im.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clk := im.Clock
	if clk == nil {
		clk = clock.System{}
	}

	rows, err := readRows(config)
	if err != nil {
		return nil, err
	}
	now := clk.Now()
	questions, result := parseRows(rows, config, now)

	job := JobImport + "/" + filepath.Base(config.FilePath)
	cp, err := retry.Do(ctx, im.Policy, "get checkpoint", func(ctx context.Context) (*database.Checkpoint, error) {
		return im.Checkpoints.Get(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	if cp.Cursor != "" {
		log.Info("resuming import", zap.String("job", job), zap.String("after", cp.Cursor))
	}

	chunkIdx := cp.Chunk
	w := &batch.Writer[models.Question]{
		Job:    job,
		Size:   im.BatchSize,
		Key:    func(q models.Question) string { return q.ID },
		Policy: im.Policy,
		Logger: log,
	}
	res, err := w.Write(ctx, questions, cp.Cursor, func(ctx context.Context, chunk []models.Question, cursor string) error {
		err := im.Questions.PutChunk(ctx, chunk, &database.Checkpoint{
			Job:       job,
			Cursor:    cursor,
			Chunk:     chunkIdx + 1,
			UpdatedAt: clk.Now(),
		})
		im.Metrics.Chunk(JobImport, err == nil)
		if err == nil {
			chunkIdx++
		}
		return err
	})
	result.Imported = res.Written
	result.Chunks = res.Chunks
	if err != nil {
		return result, err
	}
	if err := im.Checkpoints.Clear(ctx, job); err != nil {
		log.Warn("failed to clear import checkpoint", zap.String("job", job), zap.Error(err))
	}
	log.Info("questions imported",
		zap.String("file", config.FilePath),
		zap.Int("processed", result.TotalProcessed),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

// readRows returns every row of the file, choosing the reader by extension.
func readRows(config ImportConfig) ([][]string, error) {
	if strings.ToLower(filepath.Ext(config.FilePath)) == ".csv" {
		return readCSV(config.FilePath)
	}
	return readExcel(config.FilePath, config.SheetName)
}

func readExcel(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows of sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}
		rows = append(rows, row)
	}
}

// parseRows turns sheet rows into questions. Invalid rows are skipped and
// reported; for duplicate ids the first row wins.
func parseRows(rows [][]string, config ImportConfig, now time.Time) ([]models.Question, *ImportResult) {
	result := &ImportResult{Errors: make([]string, 0)}
	start := config.StartRow
	if start < 1 {
		start = 1
	}

	seen := make(map[string]int)
	var questions []models.Question
	for i, row := range rows {
		rowNum := i + 1
		if rowNum < start || blank(row) {
			continue
		}
		result.TotalProcessed++

		q, err := parseQuestion(row, config, now)
		if err == nil {
			if first, dup := seen[q.ID]; dup {
				err = fmt.Errorf("duplicate id %q, first seen in row %d", q.ID, first)
			}
		}
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", rowNum, err))
			continue
		}
		seen[q.ID] = rowNum
		questions = append(questions, q)
	}
	return questions, result
}

func parseQuestion(row []string, config ImportConfig, now time.Time) (models.Question, error) {
	q := models.Question{
		ID:        cell(row, config.IDColumn),
		Subject:   cell(row, config.SubjectColumn),
		Body:      cell(row, config.QuestionColumn),
		Answer:    cell(row, config.AnswerColumn),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if q.Body == "" {
		return q, fmt.Errorf("question text is empty")
	}
	if q.Answer == "" {
		return q, fmt.Errorf("answer is empty")
	}
	if q.ID == "" {
		q.ID = uuid.NewSHA1(questionNamespace, []byte(q.Subject+"\x00"+q.Body)).String()
	}
	if err := cards.ValidateID("question", q.ID); err != nil {
		return q, err
	}
	if len(q.ID) > MaxQuestionIDLength {
		return q, fmt.Errorf("question id longer than %d bytes", MaxQuestionIDLength)
	}
	return q, nil
}

func cell(row []string, column string) string {
	if column == "" {
		return ""
	}
	if idx := columnToIndex(column); idx >= 0 && idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// columnToIndex converts an Excel column letter to a 0-based index.
func columnToIndex(column string) int {
	idx, err := excelize.ColumnNameToNumber(strings.ToUpper(column))
	if err != nil {
		return -1
	}
	return idx - 1
}
