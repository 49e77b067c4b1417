package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/dentalsrs/internal/excel"
)

var importConfig = excel.DefaultImportConfig()

var importCmd = &cobra.Command{
	Use:   "import-questions <file>",
	Short: "Import the question bank from an xlsx or csv file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := importConfig
		cfg.FilePath = args[0]
		im := &excel.Importer{
			Questions:   a.questions,
			Checkpoints: a.checkpoints,
			Policy:      a.policy,
			BatchSize:   a.cfg.Batch.Size,
			Clock:       a.clock,
			Logger:      a.log.Named("import"),
			Metrics:     a.metrics,
		}
		res, err := im.Import(cmd.Context(), cfg)
		if res != nil {
			for _, e := range res.Errors {
				fmt.Println("⚠️", e)
			}
		}
		if err != nil {
			return resumeHint(err)
		}
		fmt.Printf("✅ Imported %d of %d questions (%d skipped)\n", res.Imported, res.TotalProcessed, res.Skipped)
		return nil
	},
}

var (
	exportWeek   string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export-ranking",
	Short: "Export a saved weekly ranking to xlsx",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.snapshots.Get(cmd.Context(), exportWeek)
		if err != nil {
			return fmt.Errorf("load ranking: %w", err)
		}
		out := exportOutput
		if out == "" {
			out = "ranking-" + snap.WeekID + ".xlsx"
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := excel.ExportRanking(snap, f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("✅ Ranking %s written to %s\n", snap.WeekID, out)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importConfig.SheetName, "sheet", "", "sheet to import, default first sheet")
	importCmd.Flags().StringVar(&importConfig.IDColumn, "id-col", importConfig.IDColumn, "column with question ids, empty to derive them")
	importCmd.Flags().StringVar(&importConfig.SubjectColumn, "subject-col", importConfig.SubjectColumn, "column with subjects")
	importCmd.Flags().StringVar(&importConfig.QuestionColumn, "question-col", importConfig.QuestionColumn, "column with question text")
	importCmd.Flags().StringVar(&importConfig.AnswerColumn, "answer-col", importConfig.AnswerColumn, "column with answers")
	importCmd.Flags().IntVar(&importConfig.StartRow, "start-row", importConfig.StartRow, "first data row (1-based)")

	exportCmd.Flags().StringVar(&exportWeek, "week", "", "week id such as 2024-W11, default latest")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file, default ranking-<week>.xlsx")

	rootCmd.AddCommand(importCmd, exportCmd)
}
