package simulator

import (
	"math"
	"math/rand"
	"time"

	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/models"
)

// 解剖学基础图案的固定几何参数（网格坐标，行优先32x32）
// 两个坐骨结节热区并排位于座面中部，大腿接触区为其下方更宽的椭圆
const (
	ischialRow      = 12   // 坐骨结节所在行
	ischialLeftCol  = 12   // 左坐骨结节列
	ischialRightCol = 19   // 右坐骨结节列
	ischialSigma    = 3.2  // 坐骨热区的指数衰减宽度
	thighCenterRow  = 20   // 大腿接触椭圆中心行
	thighCenterCol  = 16   // 大腿接触椭圆中心列
	thighRowRadius  = 9.0  // 椭圆行半径
	thighColRadius  = 12.0 // 椭圆列半径
)

// 场景调制参数
const (
	buildupUnitsPerSecond = 2.0  // 压力累积基准速率（单位/秒），场景再乘各自倍率
	normalSittingRate     = 0.5  // 正常久坐倍率
	buildupAlertRate      = 2.0  // 快速累积倍率
	weightShiftPeriod     = 10.0 // 重心转移正弦周期（秒）
	weightShiftAmplitude  = 0.2  // 半区权重振幅（权重在0.3~0.7间摆动，两侧恒和1.0）
	demoPhaseSeconds      = 15.0 // 顺序演示的单阶段时长
	demoCycleSeconds      = 60.0 // 顺序演示的完整循环时长
)

// 故障效果参数
const (
	deadPixelRatio      = 0.05 // 坏点故障归零的单元比例
	electricalNoiseRate = 0.02 // 电气噪声跳变的单元比例
	noiseProportion     = 0.05 // 正常生成时按比例叠加的随机噪声(±5%)
	driftStep           = 2    // 校准漂移每次累积的偏移量
	driftFrameInterval  = 20   // 每生成多少帧漂移累积一次
	driftRangeCap       = 0.6  // 漂移偏移上限：量程的60%
)

// PatternGenerator 解剖学压力图案生成器
// 基础图案是网格坐标的确定性函数；场景调制与噪声在其上叠加
type PatternGenerator struct {
	minValue     int
	maxValue     int
	basePressure int
	rangeSpan    int
	rng          *rand.Rand
}

// NewPatternGenerator 创建图案生成器
func NewPatternGenerator(minValue, maxValue, basePressure, rangeSpan int, rng *rand.Rand) *PatternGenerator {
	return &PatternGenerator{
		minValue:     minValue,
		maxValue:     maxValue,
		basePressure: basePressure,
		rangeSpan:    rangeSpan,
		rng:          rng,
	}
}

// Base 生成解剖学基础图案：两个指数衰减的坐骨结节热区
// 叠加一个更宽的大腿接触椭圆，数值落在[basePressure, basePressure+rangeSpan]附近
func (g *PatternGenerator) Base() [models.GridCells]float64 {
	var grid [models.GridCells]float64

	span := float64(g.rangeSpan)
	for row := 0; row < models.GridSide; row++ {
		for col := 0; col < models.GridSide; col++ {
			v := 0.0

			// 大腿接触椭圆：中心压力最高，向边缘线性衰减
			er := (float64(row) - thighCenterRow) / thighRowRadius
			ec := (float64(col) - thighCenterCol) / thighColRadius
			if d := er*er + ec*ec; d <= 1 {
				v = float64(g.basePressure) + 0.25*span*(1-d)
			}

			// 坐骨结节热区：指数衰减
			for _, hotCol := range [2]float64{ischialLeftCol, ischialRightCol} {
				dr := float64(row) - ischialRow
				dc := float64(col) - hotCol
				contribution := 0.45 * span * math.Exp(-(dr*dr+dc*dc)/(2*ischialSigma*ischialSigma))
				if contribution > 1 {
					v += contribution
					if v < float64(g.basePressure) {
						v = float64(g.basePressure)
					}
				}
			}

			grid[row*models.GridSide+col] = v
		}
	}

	return grid
}

// Phase 计算顺序演示场景当前所处阶段（1-4）
func Phase(elapsed time.Duration) int {
	cycle := math.Mod(elapsed.Seconds(), demoCycleSeconds)
	return 1 + int(cycle/demoPhaseSeconds)
}

// ApplyScenario 按场景对图案施加时间调制，elapsed为场景内已流逝时间
func (g *PatternGenerator) ApplyScenario(grid *[models.GridCells]float64, scenario models.Scenario, elapsed time.Duration) {
	switch scenario {
	case models.ScenarioNormalSitting:
		g.applyBuildup(grid, elapsed, normalSittingRate)
	case models.ScenarioPressureBuildupAlert:
		g.applyBuildup(grid, elapsed, buildupAlertRate)
	case models.ScenarioWeightShiftingRelief:
		g.applyWeightShift(grid, elapsed)
	case models.ScenarioSequentialDemo:
		g.applySequentialDemo(grid, elapsed)
	case models.ScenarioStatic:
		// 无时间调制
	}
}

// applyBuildup 已升高的单元随时间单调增加，模拟组织持续受压
func (g *PatternGenerator) applyBuildup(grid *[models.GridCells]float64, elapsed time.Duration, rate float64) {
	delta := elapsed.Seconds() * buildupUnitsPerSecond * rate
	for i := range grid {
		if grid[i] > float64(g.basePressure) {
			grid[i] += delta
		}
	}
}

// applyWeightShift 左右半区按正弦交替承重，两侧权重恒和1.0
func (g *PatternGenerator) applyWeightShift(grid *[models.GridCells]float64, elapsed time.Duration) {
	phase := 2 * math.Pi * elapsed.Seconds() / weightShiftPeriod
	leftWeight := 0.5 + weightShiftAmplitude*math.Sin(phase)
	rightWeight := 1.0 - leftWeight

	for row := 0; row < models.GridSide; row++ {
		for col := 0; col < models.GridSide; col++ {
			idx := row*models.GridSide + col
			if col < models.GridSide/2 {
				grid[idx] *= 2 * leftWeight
			} else {
				grid[idx] *= 2 * rightWeight
			}
		}
	}
}

// applySequentialDemo 60秒循环内按15秒阶段轮换：
// 阶段1正常久坐，阶段2快速累积，阶段3重心转移，阶段4静态恢复
func (g *PatternGenerator) applySequentialDemo(grid *[models.GridCells]float64, elapsed time.Duration) {
	cycle := math.Mod(elapsed.Seconds(), demoCycleSeconds)
	phase := int(cycle / demoPhaseSeconds)
	// 阶段内已流逝时间，各阶段的调制从零起步
	within := time.Duration((cycle - float64(phase)*demoPhaseSeconds) * float64(time.Second))

	switch phase {
	case 0:
		g.applyBuildup(grid, within, normalSittingRate)
	case 1:
		g.applyBuildup(grid, within, buildupAlertRate)
	case 2:
		g.applyWeightShift(grid, within)
	default:
		// 阶段4：静态恢复
	}
}

// ApplyNoise 对活跃单元按比例叠加随机噪声（±5%）
func (g *PatternGenerator) ApplyNoise(grid *[models.GridCells]float64) {
	for i := range grid {
		if grid[i] > 0 {
			grid[i] *= 1 + noiseProportion*(2*g.rng.Float64()-1)
		}
	}
}

// Quantize 将浮点图案量化为整数网格并钳制到[minValue, maxValue]
func (g *PatternGenerator) Quantize(grid *[models.GridCells]float64) [models.GridCells]int {
	var out [models.GridCells]int
	for i, v := range grid {
		n := int(math.Round(v))
		if n < g.minValue {
			n = g.minValue
		}
		if n > g.maxValue {
			n = g.maxValue
		}
		out[i] = n
	}
	return out
}

// ApplyFaults 对量化后的网格施加非短路故障效果
// （断连与饱和在设备层短路处理，不经过此路径）
// driftOffset 为设备维护的校准漂移累积偏移
func (g *PatternGenerator) ApplyFaults(grid *[models.GridCells]int, faults models.DeviceFault, driftOffset int) {
	if faults.Has(models.FaultDeadPixels) {
		for i := range grid {
			if g.rng.Float64() < deadPixelRatio {
				grid[i] = 0
			}
		}
	}

	if faults.Has(models.FaultPartialDataLoss) {
		// 随机一段4-8行归零
		band := 4 + g.rng.Intn(5)
		start := g.rng.Intn(models.GridSide - band)
		for row := start; row < start+band; row++ {
			for col := 0; col < models.GridSide; col++ {
				grid[row*models.GridSide+col] = 0
			}
		}
	}

	if faults.Has(models.FaultCalibrationDrift) && driftOffset > 0 {
		for i := range grid {
			if grid[i] > 0 {
				grid[i] += driftOffset
			}
		}
	}

	if faults.Has(models.FaultElectricalNoise) {
		for i := range grid {
			if g.rng.Float64() < electricalNoiseRate {
				grid[i] = g.maxValue - g.rng.Intn(10)
			}
		}
	}

	// 故障效果可能越界，最终统一钳制到[minValue, maxValue]
	// （故障归零的单元被抬到量程下限；全零帧仅由断连短路产生）
	for i := range grid {
		if grid[i] < g.minValue {
			grid[i] = g.minValue
		}
		if grid[i] > g.maxValue {
			grid[i] = g.maxValue
		}
	}
}

// DriftCap 校准漂移偏移的上限（量程的60%）
func (g *PatternGenerator) DriftCap() int {
	return int(float64(g.maxValue-g.minValue) * driftRangeCap)
}
