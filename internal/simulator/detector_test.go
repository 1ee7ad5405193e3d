package simulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/models"
)

func testThresholds() Thresholds {
	return Thresholds{
		MinValue:      1,
		MaxValue:      255,
		BasePressure:  30,
		PeakIndex:     150,
		HighAlert:     200,
		PatientBreach: 200,
	}
}

// fillBlock 在网格上填充一个矩形区域
func fillBlock(grid *[models.GridCells]int, rowStart, rowEnd, colStart, colEnd, value int) {
	for r := rowStart; r < rowEnd; r++ {
		for c := colStart; c < colEnd; c++ {
			grid[r*models.GridSide+c] = value
		}
	}
}

func TestPeakPressureIndex_SmallClusterIgnored(t *testing.T) {
	var grid [models.GridCells]int

	// 9单元簇 @250（低于最小簇规模，必须被忽略，即使其峰值更高）
	fillBlock(&grid, 2, 5, 2, 5, 250) // 3x3 = 9

	// 12单元簇 @100（合格）
	fillBlock(&grid, 10, 13, 10, 14, 100) // 3x4 = 12

	result := PeakPressureIndex(&grid, 50)
	assert.Equal(t, 100, result)
}

func TestPeakPressureIndex_AllBelowThreshold(t *testing.T) {
	var grid [models.GridCells]int
	for i := range grid {
		grid[i] = 50
	}

	// 全部不超过阈值 → 0（等于阈值不算超过）
	assert.Equal(t, 0, PeakPressureIndex(&grid, 50))
}

func TestPeakPressureIndex_WholeGridOneCluster(t *testing.T) {
	var grid [models.GridCells]int
	for i := range grid {
		grid[i] = 120
	}
	grid[777] = 213 // 全局最大值

	assert.Equal(t, 213, PeakPressureIndex(&grid, 50))
}

func TestPeakPressureIndex_ExactMinimumClusterSize(t *testing.T) {
	var grid [models.GridCells]int

	// 恰好10个单元的行段：合格
	fillBlock(&grid, 5, 6, 5, 15, 90)
	assert.Equal(t, 90, PeakPressureIndex(&grid, 50))

	// 9个单元：不合格
	var grid9 [models.GridCells]int
	fillBlock(&grid9, 5, 6, 5, 14, 90)
	assert.Equal(t, 0, PeakPressureIndex(&grid9, 50))
}

func TestPeakPressureIndex_DiagonalNotConnected(t *testing.T) {
	var grid [models.GridCells]int

	// 12个对角相邻的单元：4连通下各自成簇（规模1），不应合并计入
	for i := 0; i < 12; i++ {
		grid[i*models.GridSide+i] = 200
	}

	assert.Equal(t, 0, PeakPressureIndex(&grid, 50))
}

func TestAnalyze_HighPressureAndBreach(t *testing.T) {
	d := NewAlertDetector(testThresholds())

	var grid [models.GridCells]int
	for i := range grid {
		grid[i] = 40
	}
	// 一个大面积高压区域
	fillBlock(&grid, 10, 16, 10, 16, 220)

	result := d.Analyze(&grid, 0)

	assert.True(t, result.Alerts.Has(models.AlertHighPressure))
	assert.True(t, result.Alerts.Has(models.AlertThresholdBreach))
	assert.Equal(t, 220, result.PeakPressure)
	assert.Equal(t, 220, result.PeakIndex)
	assert.Equal(t, 1, result.SustainedCount)
}

func TestAnalyze_NoisyPixelDoesNotAlert(t *testing.T) {
	d := NewAlertDetector(testThresholds())

	var grid [models.GridCells]int
	for i := range grid {
		grid[i] = 40
	}
	// 孤立热像素：原始峰值很高，但聚类修正后不触发报警
	grid[100] = 255

	result := d.Analyze(&grid, 0)

	assert.Equal(t, 255, result.PeakPressure)
	assert.Equal(t, 0, result.PeakIndex)
	assert.False(t, result.Alerts.Has(models.AlertHighPressure))
	assert.False(t, result.Alerts.Has(models.AlertThresholdBreach))
}

func TestAnalyze_SustainedPressureBoundary(t *testing.T) {
	d := NewAlertDetector(testThresholds())

	var high [models.GridCells]int
	for i := range high {
		high[i] = 220
	}
	var low [models.GridCells]int
	for i := range low {
		low[i] = 40
	}

	// 第44帧之前不置位
	count := 0
	for i := 0; i < SustainedTicks-1; i++ {
		result := d.Analyze(&high, count)
		count = result.SustainedCount
		assert.False(t, result.Alerts.Has(models.AlertSustainedPressure),
			"sustained must not be set at tick %d", i+1)
	}
	require.Equal(t, SustainedTicks-1, count)

	// 第45帧恰好置位
	result := d.Analyze(&high, count)
	assert.True(t, result.Alerts.Has(models.AlertSustainedPressure))

	// 低于阈值的下一帧立即清除且计数归零
	result = d.Analyze(&low, result.SustainedCount)
	assert.False(t, result.Alerts.Has(models.AlertSustainedPressure))
	assert.Equal(t, 0, result.SustainedCount)
}

func TestAnalyze_PositioningWarning(t *testing.T) {
	d := NewAlertDetector(testThresholds())

	var grid [models.GridCells]int
	// 左半区高压，右半区低压：比值 100/10 = 10 > 2.0
	fillBlock(&grid, 0, models.GridSide, 0, models.GridSide/2, 100)
	fillBlock(&grid, 0, models.GridSide, models.GridSide/2, models.GridSide, 10)

	result := d.Analyze(&grid, 0)
	assert.True(t, result.Alerts.Has(models.AlertPositioningWarning))

	// 均衡分布不触发
	var balanced [models.GridCells]int
	for i := range balanced {
		balanced[i] = 80
	}
	result = d.Analyze(&balanced, 0)
	assert.False(t, result.Alerts.Has(models.AlertPositioningWarning))
}

func TestAnalyze_ContactArea(t *testing.T) {
	d := NewAlertDetector(testThresholds())

	var grid [models.GridCells]int
	// 256个单元超过基础压力 → 25%
	fillBlock(&grid, 0, 8, 0, models.GridSide, 100)

	result := d.Analyze(&grid, 0)
	assert.InDelta(t, 25.0, result.ContactAreaPercent, 0.001)
}

func TestAnalyze_AllZeroGrid(t *testing.T) {
	d := NewAlertDetector(testThresholds())

	var grid [models.GridCells]int
	result := d.Analyze(&grid, 10)

	assert.Equal(t, models.AlertNone, result.Alerts)
	assert.Equal(t, 0, result.PeakPressure)
	assert.Equal(t, 0.0, result.ContactAreaPercent)
	assert.Equal(t, 0, result.SustainedCount)
}
