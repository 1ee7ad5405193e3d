package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/models"
)

func testSettings() Settings {
	return Settings{
		MinValue:               1,
		MaxValue:               255,
		BasePressure:           30,
		RangeSpan:              170,
		PeakIndexThreshold:     150,
		HighAlertThreshold:     200,
		PatientBreachThreshold: 200,
		FramesPerSecond:        50,
	}
}

func newTestDevice(t *testing.T) *MockHeatmapDevice {
	t.Helper()
	return NewMockHeatmapDevice("patient-1", testSettings(), zap.NewNop())
}

func TestTick_NormalGeneration(t *testing.T) {
	d := newTestDevice(t)

	d.tick(time.Now())

	frame := d.CurrentFrame()
	require.NotNil(t, frame)
	assert.Equal(t, uint64(1), frame.FrameNumber)
	assert.Equal(t, "patient-1", frame.PatientID)
	assert.Equal(t, d.DeviceID(), frame.DeviceID)
	assert.Equal(t, models.FaultNone, frame.ActiveFaults)

	// 正常生成的每个单元都在量程内
	for _, v := range frame.PressureData {
		assert.GreaterOrEqual(t, v, 1)
		assert.LessOrEqual(t, v, 255)
	}
	assert.Greater(t, frame.ContactAreaPercent, 0.0)
}

func TestTick_FrameNumbersGapFree(t *testing.T) {
	d := newTestDevice(t)

	for i := 1; i <= 10; i++ {
		d.tick(time.Now())
		require.Equal(t, uint64(i), d.CurrentFrame().FrameNumber)
	}
}

func TestTick_Disconnected(t *testing.T) {
	d := newTestDevice(t)
	require.NoError(t, d.InjectFault(models.FaultDisconnected, 0))

	// 注入后的下一个生成周期立即产出全零帧
	d.tick(time.Now())

	frame := d.CurrentFrame()
	require.NotNil(t, frame)
	assert.True(t, frame.ActiveFaults.Has(models.FaultDisconnected))
	for _, v := range frame.PressureData {
		assert.Equal(t, 0, v)
	}
	assert.Equal(t, models.AlertNone, frame.Alerts)
}

func TestTick_Saturation(t *testing.T) {
	d := newTestDevice(t)
	require.NoError(t, d.InjectFault(models.FaultSaturation, 0))

	d.tick(time.Now())

	frame := d.CurrentFrame()
	require.NotNil(t, frame)
	for _, v := range frame.PressureData {
		assert.Equal(t, 255, v)
	}
	assert.True(t, frame.Alerts.Has(models.AlertHighPressure))
	assert.True(t, frame.Alerts.Has(models.AlertThresholdBreach))
}

func TestTick_DisconnectedTakesPrecedenceOverSaturation(t *testing.T) {
	d := newTestDevice(t)
	require.NoError(t, d.InjectFault(models.FaultDisconnected, 0))
	require.NoError(t, d.InjectFault(models.FaultSaturation, 0))

	d.tick(time.Now())

	for _, v := range d.CurrentFrame().PressureData {
		assert.Equal(t, 0, v)
	}
}

func TestTick_SequentialDemoPhase(t *testing.T) {
	d := newTestDevice(t)
	require.NoError(t, d.SetScenario(models.ScenarioSequentialDemo))

	// 场景锚点回拨到16秒前 → 当前应处于阶段2
	d.mu.Lock()
	d.scenarioStart = time.Now().Add(-16 * time.Second)
	d.mu.Unlock()

	d.tick(time.Now())
	assert.Equal(t, 2, d.CurrentPhase())
}

func TestTick_EmitsEventsInOrder(t *testing.T) {
	d := newTestDevice(t)

	var frames []uint64
	d.OnFrame(func(f *models.HeatmapFrame) {
		frames = append(frames, f.FrameNumber)
	})

	var alerts []uint64
	d.OnAlert(func(f *models.HeatmapFrame) {
		alerts = append(alerts, f.FrameNumber)
	})

	d.tick(time.Now())
	require.NoError(t, d.InjectFault(models.FaultSaturation, 0))
	d.tick(time.Now())

	assert.Equal(t, []uint64{1, 2}, frames)
	// 仅报警帧触发报警回调
	assert.Equal(t, []uint64{2}, alerts)
}

func TestInjectFault_TimedRemoval(t *testing.T) {
	d := newTestDevice(t)

	require.NoError(t, d.InjectFault(models.FaultDeadPixels, 0))
	require.NoError(t, d.InjectFault(models.FaultElectricalNoise, 50*time.Millisecond))

	assert.True(t, d.ActiveFaults().Has(models.FaultDeadPixels))
	assert.True(t, d.ActiveFaults().Has(models.FaultElectricalNoise))

	// 定时故障到期后被清除，其余并存故障不受影响
	assert.Eventually(t, func() bool {
		return !d.ActiveFaults().Has(models.FaultElectricalNoise)
	}, time.Second, 10*time.Millisecond)
	assert.True(t, d.ActiveFaults().Has(models.FaultDeadPixels))
}

func TestClearFaults(t *testing.T) {
	d := newTestDevice(t)

	require.NoError(t, d.InjectFault(models.FaultDeadPixels, 0))
	require.NoError(t, d.InjectFault(models.FaultCalibrationDrift, 0))
	require.NoError(t, d.ClearFaults())

	assert.Equal(t, models.FaultNone, d.ActiveFaults())

	// 已无故障的设备上幂等
	require.NoError(t, d.ClearFaults())
}

func TestAutoFault_PoolExcludesDisruptiveFaults(t *testing.T) {
	d := newTestDevice(t)
	require.NoError(t, d.SetAutoFaultConfig(1.0, time.Minute))

	d.tick(time.Now())

	fault := d.ActiveFaults()
	assert.NotEqual(t, models.FaultNone, fault)
	// 自动注入绝不掷出断连或饱和
	assert.False(t, fault.Has(models.FaultDisconnected))
	assert.False(t, fault.Has(models.FaultSaturation))
}

func TestAutoFault_Expiry(t *testing.T) {
	d := newTestDevice(t)
	require.NoError(t, d.SetAutoFaultConfig(1.0, 30*time.Millisecond))

	now := time.Now()
	d.tick(now)
	require.NotEqual(t, models.FaultNone, d.ActiveFaults())

	// 概率归零后，到期的自动故障在下一个周期被清除且不再掷出
	require.NoError(t, d.SetAutoFaultConfig(0, 0))
	d.tick(now.Add(50 * time.Millisecond))
	assert.Equal(t, models.FaultNone, d.ActiveFaults())
}

func TestSetAutoFaultConfig_InvalidProbability(t *testing.T) {
	d := newTestDevice(t)

	assert.ErrorIs(t, d.SetAutoFaultConfig(-0.1, time.Second), ErrInvalidProbability)
	assert.ErrorIs(t, d.SetAutoFaultConfig(1.1, time.Second), ErrInvalidProbability)
}

func TestStartStop_Lifecycle(t *testing.T) {
	d := newTestDevice(t)
	assert.Equal(t, models.StatusIdle, d.Status())

	require.NoError(t, d.Start())
	assert.Equal(t, models.StatusRunning, d.Status())

	// 重复Start为无操作
	require.NoError(t, d.Start())

	// 等待至少生成一帧
	require.Eventually(t, func() bool {
		return d.CurrentFrame() != nil
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, models.StatusIdle, d.Status())

	// Stop返回后不再生成任何帧
	last := d.CurrentFrame().FrameNumber
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, last, d.CurrentFrame().FrameNumber)

	// 已停止的设备上Stop幂等
	require.NoError(t, d.Stop(ctx))
}

func TestStart_ResetsFrameCounter(t *testing.T) {
	d := newTestDevice(t)

	require.NoError(t, d.Start())
	require.Eventually(t, func() bool {
		return d.CurrentFrame() != nil && d.CurrentFrame().FrameNumber >= 3
	}, 2*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, d.Stop(ctx))

	// 重新Start后帧计数从头开始
	require.NoError(t, d.Start())
	require.Eventually(t, func() bool {
		f := d.CurrentFrame()
		return f != nil && f.FrameNumber < 3
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, d.Stop(ctx))
}

func TestSetFrameRate(t *testing.T) {
	d := newTestDevice(t)

	// 非法帧率在任何状态下都被拒绝且不改变设备状态
	assert.ErrorIs(t, d.SetFrameRate(context.Background(), 0), ErrInvalidFrameRate)
	assert.ErrorIs(t, d.SetFrameRate(context.Background(), 61), ErrInvalidFrameRate)
	assert.ErrorIs(t, d.SetFrameRate(context.Background(), -5), ErrInvalidFrameRate)
	assert.Equal(t, 50, d.FrameRate())

	// 未运行时只更新配置
	require.NoError(t, d.SetFrameRate(context.Background(), 20))
	assert.Equal(t, 20, d.FrameRate())
	assert.Equal(t, models.StatusIdle, d.Status())

	// 运行中更新帧率：以新帧率重启循环并保持Running
	require.NoError(t, d.Start())
	require.NoError(t, d.SetFrameRate(context.Background(), 60))
	assert.Equal(t, 60, d.FrameRate())
	assert.Equal(t, models.StatusRunning, d.Status())

	require.Eventually(t, func() bool {
		return d.CurrentFrame() != nil
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, d.Stop(context.Background()))
}

func TestDispose(t *testing.T) {
	d := newTestDevice(t)
	require.NoError(t, d.Start())

	var statuses []models.DeviceStatus
	d.OnStatusChange(func(s models.DeviceStatus) {
		statuses = append(statuses, s)
	})

	ctx := context.Background()
	require.NoError(t, d.Dispose(ctx))
	assert.Equal(t, models.StatusDisposed, d.Status())

	// 终结后全部操作失败
	assert.ErrorIs(t, d.Start(), ErrDeviceDisposed)
	assert.ErrorIs(t, d.SetScenario(models.ScenarioStatic), ErrDeviceDisposed)
	assert.ErrorIs(t, d.SetFrameRate(ctx, 10), ErrDeviceDisposed)
	assert.ErrorIs(t, d.InjectFault(models.FaultDeadPixels, 0), ErrDeviceDisposed)
	assert.ErrorIs(t, d.ClearFaults(), ErrDeviceDisposed)
	assert.ErrorIs(t, d.SetAutoFaultConfig(0.5, time.Second), ErrDeviceDisposed)

	// Dispose幂等
	require.NoError(t, d.Dispose(ctx))
}

func TestCurrentFrame_BeforeAnyGeneration(t *testing.T) {
	d := newTestDevice(t)

	// 从未生成过帧时：数组全零、CSV为空串，均非错误
	assert.Nil(t, d.CurrentFrame())
	data := d.CurrentFrameData()
	require.Len(t, data, models.GridCells)
	for _, v := range data {
		assert.Equal(t, 0, v)
	}
	assert.Equal(t, "", d.CurrentFrameCSV())
}

func TestSetScenario_ResetsAnchor(t *testing.T) {
	d := newTestDevice(t)
	require.NoError(t, d.SetScenario(models.ScenarioSequentialDemo))

	d.mu.Lock()
	d.scenarioStart = time.Now().Add(-40 * time.Second)
	d.mu.Unlock()

	d.tick(time.Now())
	require.Equal(t, 3, d.CurrentPhase())

	// 切换场景重置锚点与阶段计数
	require.NoError(t, d.SetScenario(models.ScenarioStatic))
	assert.Equal(t, 0, d.CurrentPhase())
}

func TestPressureBuildup_ReachesAlert(t *testing.T) {
	d := newTestDevice(t)
	require.NoError(t, d.SetScenario(models.ScenarioPressureBuildupAlert))

	// 快速累积场景下，坐骨区压力随模拟时间推进最终突破阈值
	d.mu.Lock()
	d.scenarioStart = time.Now().Add(-30 * time.Second)
	d.mu.Unlock()

	d.tick(time.Now())

	frame := d.CurrentFrame()
	require.NotNil(t, frame)
	assert.True(t, frame.Alerts.Has(models.AlertHighPressure))
	assert.True(t, frame.Alerts.Has(models.AlertThresholdBreach))
}

func TestWeightShifting_NoSpuriousAlerts(t *testing.T) {
	d := newTestDevice(t)
	require.NoError(t, d.SetScenario(models.ScenarioWeightShiftingRelief))

	// 一个完整10秒周期内逐步推进：振荡不应触发高压类报警
	start := time.Now()
	d.mu.Lock()
	d.scenarioStart = start
	d.mu.Unlock()

	for offset := time.Duration(0); offset <= 10*time.Second; offset += 500 * time.Millisecond {
		d.tick(start.Add(offset))
		frame := d.CurrentFrame()
		assert.False(t, frame.Alerts.Has(models.AlertHighPressure),
			"unexpected high pressure alert at offset %v", offset)
		assert.False(t, frame.Alerts.Has(models.AlertSustainedPressure))
	}
}
