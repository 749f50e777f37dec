package workflow

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const driftSheet = "Drift"

var driftHeadings = []string{"TenantId", "MaterialId", "MaterialName", "CatalogBalance", "AllocationTotal", "Difference", "Fixed"}

func driftWorkbook(drifts []OpeningBalanceDrift) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", driftSheet); err != nil {
		return nil, err
	}

	for i, h := range driftHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(driftSheet, cell, h); err != nil {
			return nil, err
		}
	}

	for i, d := range drifts {
		row := fmt.Sprint(i + 2)
		values := []interface{}{
			d.TenantId,
			d.MaterialId,
			d.MaterialName,
			d.CatalogBalance.String(),
			d.AllocationTotal.String(),
			d.Difference.String(),
			d.Fixed,
		}
		for col, v := range values {
			name, err := excelize.ColumnNumberToName(col + 1)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(driftSheet, name+row, v); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// WriteDriftReport saves drifts as an xlsx workbook at filename.
func WriteDriftReport(drifts []OpeningBalanceDrift, filename string) error {
	f, err := driftWorkbook(drifts)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(filename)
}

// WriteDriftReportTo streams the workbook to w.
func WriteDriftReportTo(drifts []OpeningBalanceDrift, w io.Writer) error {
	f, err := driftWorkbook(drifts)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}
