package excel

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/example/dentalsrs/pkg/models"
)

// Layout of an exported ranking sheet.
const (
	rankingTitleRow  = 1
	rankingHeaderRow = 2
	rankingFirstRow  = 3
)

var rankingHeader = []interface{}{"Rank", "Name", "Weekly points", "Total points", "Mastery", "Level"}

// ExportRanking writes a saved weekly ranking as an xlsx workbook.
func ExportRanking(snap *models.RankingSnapshot, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	title := []interface{}{"Week", snap.WeekID, "Participants", snap.TotalParticipants, "Taken at", snap.TakenAt.UTC().Format("2006-01-02 15:04 UTC")}
	if err := setRow(f, sheet, rankingTitleRow, title); err != nil {
		return fmt.Errorf("write title: %w", err)
	}
	if err := setRow(f, sheet, rankingHeaderRow, rankingHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, e := range snap.Rankings {
		row := []interface{}{e.Rank, e.DisplayName, e.WeeklyPoints, e.TotalPoints, e.MasteryRate, e.MasteryLevel}
		if err := setRow(f, sheet, rankingFirstRow+i, row); err != nil {
			return fmt.Errorf("write row %d: %w", rankingFirstRow+i, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	ref, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, ref, &values)
}
