package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/models"
)

// 设备操作错误
var (
	ErrDeviceDisposed     = errors.New("device already disposed")
	ErrDeviceFailed       = errors.New("device in error state")
	ErrInvalidFrameRate   = errors.New("frame rate must be in (0, 60]")
	ErrInvalidProbability = errors.New("probability must be in [0, 1]")
)

// autoFaultPool 自动故障注入的候选集合
// 刻意排除断连与饱和：这两种故障破坏性最强，仅允许手动触发
var autoFaultPool = [4]models.DeviceFault{
	models.FaultDeadPixels,
	models.FaultPartialDataLoss,
	models.FaultCalibrationDrift,
	models.FaultElectricalNoise,
}

// Settings 单台模拟设备的运行参数
type Settings struct {
	MinValue     int
	MaxValue     int
	BasePressure int
	RangeSpan    int

	PeakIndexThreshold     int
	HighAlertThreshold     int
	PatientBreachThreshold int

	FramesPerSecond      int
	AutoFaultProbability float64
	AutoFaultDuration    time.Duration
}

// FrameHandler 帧事件回调
type FrameHandler func(*models.HeatmapFrame)

// StatusHandler 状态变更回调
type StatusHandler func(models.DeviceStatus)

// MockHeatmapDevice 单患者虚拟压力传感器
//
// 每台设备持有独立的周期生成循环（一台设备一个goroutine）、场景状态机
// 与故障注入状态。全部可变状态由单把互斥锁保护；同一设备的生成步骤
// 不会并发执行，Stop在在途生成步骤完成前不会返回
type MockHeatmapDevice struct {
	deviceID  string
	patientID string
	logger    *zap.Logger
	detector  *AlertDetector
	pattern   *PatternGenerator
	rng       *rand.Rand

	mu             sync.Mutex
	status         models.DeviceStatus
	scenario       models.Scenario
	scenarioStart  time.Time
	currentPhase   int
	fps            int
	frameNumber    uint64
	manualFaults   models.DeviceFault
	autoFault      models.DeviceFault
	autoFaultUntil time.Time
	autoFaultProb  float64
	autoFaultDur   time.Duration
	driftOffset    int
	sustainedCount int
	currentFrame   *models.HeatmapFrame

	cancel context.CancelFunc
	done   chan struct{}

	frameHandlers  []FrameHandler
	alertHandlers  []FrameHandler
	statusHandlers []StatusHandler
}

// NewMockHeatmapDevice 创建虚拟设备（初始状态Idle，不启动生成循环）
func NewMockHeatmapDevice(patientID string, settings Settings, logger *zap.Logger) *MockHeatmapDevice {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	return &MockHeatmapDevice{
		deviceID:  "dev-" + uuid.NewString(),
		patientID: patientID,
		logger:    logger,
		rng:       rng,
		detector: NewAlertDetector(Thresholds{
			MinValue:      settings.MinValue,
			MaxValue:      settings.MaxValue,
			BasePressure:  settings.BasePressure,
			PeakIndex:     settings.PeakIndexThreshold,
			HighAlert:     settings.HighAlertThreshold,
			PatientBreach: settings.PatientBreachThreshold,
		}),
		pattern:       NewPatternGenerator(settings.MinValue, settings.MaxValue, settings.BasePressure, settings.RangeSpan, rng),
		status:        models.StatusIdle,
		scenario:      models.ScenarioNormalSitting,
		fps:           settings.FramesPerSecond,
		autoFaultProb: settings.AutoFaultProbability,
		autoFaultDur:  settings.AutoFaultDuration,
	}
}

// DeviceID 设备标识
func (d *MockHeatmapDevice) DeviceID() string { return d.deviceID }

// PatientID 所属患者
func (d *MockHeatmapDevice) PatientID() string { return d.patientID }

// Status 当前设备状态
func (d *MockHeatmapDevice) Status() models.DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Scenario 当前场景
func (d *MockHeatmapDevice) Scenario() models.Scenario {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scenario
}

// CurrentPhase 顺序演示场景当前阶段（1-4），其余场景恒为0
func (d *MockHeatmapDevice) CurrentPhase() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentPhase
}

// FrameRate 当前配置帧率
func (d *MockHeatmapDevice) FrameRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fps
}

// ActiveFaults 当前生效的故障集合（手动与自动按位或）
func (d *MockHeatmapDevice) ActiveFaults() models.DeviceFault {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.manualFaults | d.autoFault
}

// OnFrame 注册帧生成回调（每完成一个生成周期同步调用一次，按生成顺序）
func (d *MockHeatmapDevice) OnFrame(h FrameHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frameHandlers = append(d.frameHandlers, h)
}

// OnAlert 注册报警检出回调（仅在该帧报警位非空时调用）
func (d *MockHeatmapDevice) OnAlert(h FrameHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alertHandlers = append(d.alertHandlers, h)
}

// OnStatusChange 注册状态变更回调
func (d *MockHeatmapDevice) OnStatusChange(h StatusHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusHandlers = append(d.statusHandlers, h)
}

// Start 启动周期生成循环
// 已在Running时为无操作；已Disposed或Error时返回错误；
// 否则重置场景计时锚点与帧计数并转入Running
func (d *MockHeatmapDevice) Start() error {
	d.mu.Lock()

	switch d.status {
	case models.StatusRunning:
		d.mu.Unlock()
		return nil
	case models.StatusDisposed:
		d.mu.Unlock()
		return ErrDeviceDisposed
	case models.StatusError:
		d.mu.Unlock()
		return ErrDeviceFailed
	}

	d.frameNumber = 0
	d.sustainedCount = 0
	d.scenarioStart = time.Now()
	d.status = models.StatusRunning

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	interval := time.Second / time.Duration(d.fps)
	handlers := append([]StatusHandler(nil), d.statusHandlers...)
	d.mu.Unlock()

	go d.run(ctx, interval)

	for _, h := range handlers {
		h(models.StatusRunning)
	}

	d.logger.Info("Mock device started",
		zap.String("device_id", d.deviceID),
		zap.String("patient_id", d.patientID),
		zap.Int("fps", d.FrameRate()),
	)
	return nil
}

// Stop 停止生成循环并等待在途生成步骤完成后返回
// 返回后保证不再生成任何帧；设备未在运行时为幂等无操作
func (d *MockHeatmapDevice) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.status != models.StatusRunning {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	// 生成循环内部失败会抢先转入Error，此处不覆盖
	if d.status == models.StatusRunning {
		d.status = models.StatusIdle
	}
	status := d.status
	handlers := append([]StatusHandler(nil), d.statusHandlers...)
	d.mu.Unlock()

	for _, h := range handlers {
		h(status)
	}

	d.logger.Info("Mock device stopped",
		zap.String("device_id", d.deviceID),
		zap.String("patient_id", d.patientID),
	)
	return nil
}

// SetScenario 切换压力图案生成场景
// 重置场景计时锚点与阶段计数使多阶段场景干净重启；不停止生成循环
func (d *MockHeatmapDevice) SetScenario(scenario models.Scenario) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == models.StatusDisposed {
		return ErrDeviceDisposed
	}

	d.scenario = scenario
	d.scenarioStart = time.Now()
	d.currentPhase = 0
	return nil
}

// SetFrameRate 更新帧率（0 < fps <= 60）
// 运行中则以新帧率重启生成循环并保持Running状态
func (d *MockHeatmapDevice) SetFrameRate(ctx context.Context, fps int) error {
	if fps <= 0 || fps > 60 {
		return fmt.Errorf("%w: got %d", ErrInvalidFrameRate, fps)
	}

	d.mu.Lock()
	if d.status == models.StatusDisposed {
		d.mu.Unlock()
		return ErrDeviceDisposed
	}
	running := d.status == models.StatusRunning
	d.mu.Unlock()

	if !running {
		d.mu.Lock()
		d.fps = fps
		d.mu.Unlock()
		return nil
	}

	if err := d.Stop(ctx); err != nil {
		return fmt.Errorf("stop for rate change: %w", err)
	}

	d.mu.Lock()
	d.fps = fps
	d.mu.Unlock()

	return d.Start()
}

// InjectFault 立即将故障并入手动故障集合
// duration > 0 时，到期后自动清除该故障位（不影响其他并存故障）
func (d *MockHeatmapDevice) InjectFault(fault models.DeviceFault, duration time.Duration) error {
	d.mu.Lock()
	if d.status == models.StatusDisposed {
		d.mu.Unlock()
		return ErrDeviceDisposed
	}
	d.manualFaults = d.manualFaults.With(fault)
	d.mu.Unlock()

	if duration > 0 {
		time.AfterFunc(duration, func() {
			d.mu.Lock()
			d.manualFaults = d.manualFaults.Without(fault)
			d.mu.Unlock()
		})
	}

	d.logger.Info("Fault injected",
		zap.String("device_id", d.deviceID),
		zap.String("fault", fault.String()),
		zap.Duration("duration", duration),
	)
	return nil
}

// ClearFaults 重置手动故障集合与校准漂移累积；不影响自动注入故障
// 对已无故障的设备为幂等无操作
func (d *MockHeatmapDevice) ClearFaults() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == models.StatusDisposed {
		return ErrDeviceDisposed
	}
	d.manualFaults = models.FaultNone
	d.driftOffset = 0
	return nil
}

// SetAutoFaultConfig 配置每周期随机自动注入故障的概率与持续时间
func (d *MockHeatmapDevice) SetAutoFaultConfig(probability float64, duration time.Duration) error {
	if probability < 0 || probability > 1 {
		return fmt.Errorf("%w: got %g", ErrInvalidProbability, probability)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == models.StatusDisposed {
		return ErrDeviceDisposed
	}
	d.autoFaultProb = probability
	d.autoFaultDur = duration
	return nil
}

// CurrentFrame 最近一帧（尚未生成任何帧时为nil）
func (d *MockHeatmapDevice) CurrentFrame() *models.HeatmapFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentFrame
}

// CurrentFrameData 最近一帧网格数据的防御性拷贝
// 尚未生成任何帧时返回全零数组（非错误），随时可安全调用
func (d *MockHeatmapDevice) CurrentFrameData() []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.currentFrame == nil {
		return make([]int, models.GridCells)
	}
	return d.currentFrame.Data()
}

// CurrentFrameCSV 最近一帧的CSV文本（尚未生成任何帧时为空串）
func (d *MockHeatmapDevice) CurrentFrameCSV() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.currentFrame == nil {
		return ""
	}
	return d.currentFrame.ToCSV()
}

// Dispose 终结设备（不可逆）：停止生成循环并拒绝后续操作
func (d *MockHeatmapDevice) Dispose(ctx context.Context) error {
	d.mu.Lock()
	if d.status == models.StatusDisposed {
		d.mu.Unlock()
		return nil
	}
	running := d.status == models.StatusRunning
	d.mu.Unlock()

	if running {
		if err := d.Stop(ctx); err != nil {
			return fmt.Errorf("stop during dispose: %w", err)
		}
	}

	d.mu.Lock()
	d.status = models.StatusDisposed
	handlers := append([]StatusHandler(nil), d.statusHandlers...)
	d.frameHandlers = nil
	d.alertHandlers = nil
	d.statusHandlers = nil
	d.mu.Unlock()

	for _, h := range handlers {
		h(models.StatusDisposed)
	}

	d.logger.Info("Mock device disposed",
		zap.String("device_id", d.deviceID),
		zap.String("patient_id", d.patientID),
	)
	return nil
}

// run 周期生成循环：每个周期执行一次生成步骤
// 同一设备的生成步骤由单goroutine串行执行，不会重叠；
// 取消信号在周期边界检查，生成步骤一旦开始不会被中途打断
func (d *MockHeatmapDevice) run(ctx context.Context, interval time.Duration) {
	defer close(d.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !d.safeTick(now) {
				return
			}
		}
	}
}

// safeTick 执行一次生成步骤；步骤内的意外panic使设备转入Error并终止循环
func (d *MockHeatmapDevice) safeTick(now time.Time) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.mu.Lock()
			d.status = models.StatusError
			handlers := append([]StatusHandler(nil), d.statusHandlers...)
			d.mu.Unlock()

			d.logger.Error("Frame generation failed, device entering error state",
				zap.String("device_id", d.deviceID),
				zap.String("patient_id", d.patientID),
				zap.Any("panic", r),
			)
			for _, h := range handlers {
				h(models.StatusError)
			}
			ok = false
		}
	}()

	d.tick(now)
	return true
}

// tick 单次生成步骤：评估故障 → 生成网格 → 报警检测 → 构帧 → 分发事件
func (d *MockHeatmapDevice) tick(now time.Time) {
	d.mu.Lock()

	// 1. 到期清除自动注入故障；否则按概率掷出新故障
	if d.autoFault != models.FaultNone && now.After(d.autoFaultUntil) {
		d.logger.Debug("Auto-injected fault expired",
			zap.String("device_id", d.deviceID),
			zap.String("fault", d.autoFault.String()),
		)
		d.autoFault = models.FaultNone
	}
	if d.autoFault == models.FaultNone && d.autoFaultProb > 0 && d.rng.Float64() < d.autoFaultProb {
		d.autoFault = autoFaultPool[d.rng.Intn(len(autoFaultPool))]
		d.autoFaultUntil = now.Add(d.autoFaultDur)
		d.logger.Info("Auto-injected fault",
			zap.String("device_id", d.deviceID),
			zap.String("fault", d.autoFault.String()),
			zap.Duration("duration", d.autoFaultDur),
		)
	}

	effectiveFaults := d.manualFaults | d.autoFault
	scenario := d.scenario
	elapsed := now.Sub(d.scenarioStart)
	if elapsed < 0 {
		elapsed = 0
	}
	if scenario == models.ScenarioSequentialDemo {
		d.currentPhase = Phase(elapsed)
	}

	// 2. 生成网格
	var grid [models.GridCells]int
	switch {
	case effectiveFaults.Has(models.FaultDisconnected):
		// 断连短路：全零帧，不经过图案生成
	case effectiveFaults.Has(models.FaultSaturation):
		for i := range grid {
			grid[i] = d.pattern.maxValue
		}
	default:
		base := d.pattern.Base()
		d.pattern.ApplyScenario(&base, scenario, elapsed)
		d.pattern.ApplyNoise(&base)
		grid = d.pattern.Quantize(&base)

		// 校准漂移每driftFrameInterval帧累积一次，封顶量程的60%
		if effectiveFaults.Has(models.FaultCalibrationDrift) {
			if d.frameNumber%driftFrameInterval == 0 {
				if limit := d.pattern.DriftCap(); d.driftOffset+driftStep <= limit {
					d.driftOffset += driftStep
				}
			}
		}
		d.pattern.ApplyFaults(&grid, effectiveFaults, d.driftOffset)
	}

	// 3. 报警检测
	analysis := d.detector.Analyze(&grid, d.sustainedCount)
	d.sustainedCount = analysis.SustainedCount

	// 4. 构帧并原子替换当前帧
	d.frameNumber++
	frame := &models.HeatmapFrame{
		Timestamp:          now,
		FrameNumber:        d.frameNumber,
		PatientID:          d.patientID,
		DeviceID:           d.deviceID,
		PressureData:       grid,
		ActiveFaults:       effectiveFaults,
		Alerts:             analysis.Alerts,
		PeakPressure:       analysis.PeakPressure,
		ContactAreaPercent: analysis.ContactAreaPercent,
		Scenario:           scenario,
	}
	d.currentFrame = frame

	frameHandlers := append([]FrameHandler(nil), d.frameHandlers...)
	alertHandlers := append([]FrameHandler(nil), d.alertHandlers...)
	d.mu.Unlock()

	// 5. 锁外同步分发事件（按生成顺序，由单循环goroutine保证）
	for _, h := range frameHandlers {
		h(frame)
	}
	if frame.Alerts != models.AlertNone {
		for _, h := range alertHandlers {
			h(frame)
		}
	}
}
