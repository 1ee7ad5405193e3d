package simulator

import (
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/models"
)

// MinClusterSize 峰值压力指数的最小连通簇规模（临床固定截断值，不可配置）
// 孤立的1-9个像素的尖峰（传感器噪声或单点坐骨接触）不具备
// 与大面积高压区域同等的临床意义
const MinClusterSize = 10

// SustainedTicks 持续高压报警所需的连续高压帧数（15fps下约3秒）
const SustainedTicks = 45

// positioningRatioLimit 左右半区平均压力比超过该值时触发坐姿警告
const positioningRatioLimit = 2.0

// Thresholds 报警检测参数
type Thresholds struct {
	MinValue int // 传感器读数下限
	MaxValue int // 传感器读数上限

	BasePressure int // 接触面积统计的判定基准
	PeakIndex    int // 峰值压力指数的洪水填充阈值

	// HighAlert 与 PatientBreach 默认取同一配置值，但各自独立计算、
	// 独立置位：未来引入按患者配置的阈值后二者会分化
	HighAlert     int
	PatientBreach int
}

// AlertDetector 对完成生成的帧网格执行报警分类
type AlertDetector struct {
	thresholds Thresholds
}

// NewAlertDetector 创建报警检测器
func NewAlertDetector(t Thresholds) *AlertDetector {
	return &AlertDetector{thresholds: t}
}

// PeakPressureIndex 计算临床修正的峰值压力指数
//
// 对网格做行优先扫描，遇到未访问且值超过threshold的单元即以显式栈
// （避免递归栈深风险）做4连通（上下左右，不含对角）洪水填充；
// 填充完成后若簇规模 >= MinClusterSize，该簇内最大值成为候选峰值。
// 返回所有合格簇候选峰值中的最大者；无合格簇时返回0
func PeakPressureIndex(grid *[models.GridCells]int, threshold int) int {
	var visited [models.GridCells]bool
	peak := 0

	// 显式栈，复用于全部填充过程
	stack := make([]int, 0, models.GridCells)

	for start := 0; start < models.GridCells; start++ {
		if visited[start] || grid[start] <= threshold {
			continue
		}

		// 从start开始洪水填充一个连通簇
		clusterSize := 0
		clusterMax := 0
		stack = stack[:0]
		stack = append(stack, start)
		visited[start] = true

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			clusterSize++
			if grid[idx] > clusterMax {
				clusterMax = grid[idx]
			}

			row := idx / models.GridSide
			col := idx % models.GridSide

			// 4连通邻居，不越界、不重访
			if row > 0 {
				push(grid, &visited, &stack, idx-models.GridSide, threshold)
			}
			if row < models.GridSide-1 {
				push(grid, &visited, &stack, idx+models.GridSide, threshold)
			}
			if col > 0 {
				push(grid, &visited, &stack, idx-1, threshold)
			}
			if col < models.GridSide-1 {
				push(grid, &visited, &stack, idx+1, threshold)
			}
		}

		if clusterSize >= MinClusterSize && clusterMax > peak {
			peak = clusterMax
		}
	}

	return peak
}

func push(grid *[models.GridCells]int, visited *[models.GridCells]bool, stack *[]int, idx, threshold int) {
	if !visited[idx] && grid[idx] > threshold {
		visited[idx] = true
		*stack = append(*stack, idx)
	}
}

// Analysis 单帧检测结果
type Analysis struct {
	Alerts             models.MedicalAlert
	PeakPressure       int     // 全帧最大值（不做过滤）
	PeakIndex          int     // 临床修正峰值指数
	ContactAreaPercent float64 // 超过基础压力的单元占比
	SustainedCount     int     // 更新后的连续高压帧计数
}

// Analyze 对一帧网格执行报警检测
// sustainedCount 为上一帧之后的连续高压帧计数，调用方负责在帧间传递
func (d *AlertDetector) Analyze(grid *[models.GridCells]int, sustainedCount int) Analysis {
	var result Analysis

	contact := 0
	for _, v := range grid {
		if v > result.PeakPressure {
			result.PeakPressure = v
		}
		if v > d.thresholds.BasePressure {
			contact++
		}
	}
	result.ContactAreaPercent = float64(contact) / float64(models.GridCells) * 100

	result.PeakIndex = PeakPressureIndex(grid, d.thresholds.PeakIndex)

	// 高压报警：聚类修正后的峰值达到报警阈值
	if result.PeakIndex >= d.thresholds.HighAlert {
		result.Alerts = result.Alerts.With(models.AlertHighPressure)
		result.SustainedCount = sustainedCount + 1
	} else {
		// 任何一帧不满足高压条件，连续计数归零
		result.SustainedCount = 0
	}

	// 持续高压：连续高压帧数达到规定值
	if result.SustainedCount >= SustainedTicks {
		result.Alerts = result.Alerts.With(models.AlertSustainedPressure)
	}

	// 患者阈值突破：与高压报警独立计算（当前默认值相同）
	if result.PeakIndex >= d.thresholds.PatientBreach {
		result.Alerts = result.Alerts.With(models.AlertThresholdBreach)
	}

	// 坐姿警告：左右半区（仅统计高于量程下限的单元）平均压力比超限
	if d.positioningImbalance(grid) {
		result.Alerts = result.Alerts.With(models.AlertPositioningWarning)
	}

	return result
}

// positioningImbalance 判断左右半区平均压力是否失衡
func (d *AlertDetector) positioningImbalance(grid *[models.GridCells]int) bool {
	var leftSum, rightSum float64
	var leftCount, rightCount int

	for row := 0; row < models.GridSide; row++ {
		for col := 0; col < models.GridSide; col++ {
			v := grid[row*models.GridSide+col]
			if v <= d.thresholds.MinValue {
				continue
			}
			if col < models.GridSide/2 {
				leftSum += float64(v)
				leftCount++
			} else {
				rightSum += float64(v)
				rightCount++
			}
		}
	}

	if leftCount == 0 {
		leftCount = 1
	}
	if rightCount == 0 {
		rightCount = 1
	}
	leftAvg := leftSum / float64(leftCount)
	rightAvg := rightSum / float64(rightCount)

	higher, lower := leftAvg, rightAvg
	if rightAvg > leftAvg {
		higher, lower = rightAvg, leftAvg
	}
	// 下限1，避免除零
	if lower < 1 {
		lower = 1
	}

	return higher/lower > positioningRatioLimit
}
