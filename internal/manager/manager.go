package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/config"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/models"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/repository"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/simulator"
)

// ErrPatientNotFound 请求的患者不存在或已停用
var ErrPatientNotFound = errors.New("patient not found")

// PatientDirectory 患者与授权查询接口（由repository.PatientRepository实现；
// 接口化便于单元测试替换）
type PatientDirectory interface {
	PatientExists(ctx context.Context, patientID string) (bool, error)
	GetPatient(ctx context.Context, patientID string, defaultLow, defaultHigh int) (*repository.Patient, error)
	AssignedPatientIDs(ctx context.Context, clinicianID string) ([]string, error)
	AssignedPatients(ctx context.Context, clinicianID string) ([]repository.PatientSummary, error)
}

// PatientDeviceInfo 看板聚合视图的单患者概要
// 覆盖全部被分配患者：无运行设备的患者也包含在内
type PatientDeviceInfo struct {
	PatientID    string              `json:"patient_id"`
	PatientName  string              `json:"patient_name"`
	HasDevice    bool                `json:"has_device"`
	Status       models.DeviceStatus `json:"status,omitempty"`
	LastAlerts   models.MedicalAlert `json:"last_alerts"`
	LastFrameAt  time.Time           `json:"last_frame_at,omitempty"`
	LastFrameNum uint64              `json:"last_frame_num,omitempty"`
}

// MockDeviceManager 虚拟设备注册表
//
// 保证每个患者任一时刻至多一台未终结设备；按分配关系为临床医生
// 提供授权访问；统一管理设备生命周期。跨设备状态互不共享，
// 注册表是设备之间唯一的协调点
type MockDeviceManager struct {
	cfg      *config.Config
	dir      PatientDirectory
	logger   *zap.Logger
	onCreate func(*simulator.MockHeatmapDevice) // 新设备创建钩子（服务层挂接事件发布）

	mu      sync.RWMutex
	devices map[string]*simulator.MockHeatmapDevice // patientID → device
}

// NewMockDeviceManager 创建设备注册表
// onCreate 可为nil；非nil时在每台新设备启动前调用一次
func NewMockDeviceManager(cfg *config.Config, dir PatientDirectory, logger *zap.Logger, onCreate func(*simulator.MockHeatmapDevice)) *MockDeviceManager {
	return &MockDeviceManager{
		cfg:      cfg,
		dir:      dir,
		logger:   logger,
		onCreate: onCreate,
		devices:  make(map[string]*simulator.MockHeatmapDevice),
	}
}

// deviceSettings 按患者记录构建设备运行参数
// 患者配置的高阈值作为阈值突破检查的输入，与全局高压报警阈值独立
func (m *MockDeviceManager) deviceSettings(p *repository.Patient) simulator.Settings {
	return simulator.Settings{
		MinValue:               m.cfg.Thresholds.MinValue,
		MaxValue:               m.cfg.Thresholds.MaxValue,
		BasePressure:           m.cfg.Simulator.BasePressure,
		RangeSpan:              m.cfg.Simulator.PressureRange,
		PeakIndexThreshold:     m.cfg.Simulator.PeakIndexThreshold,
		HighAlertThreshold:     m.cfg.Thresholds.DefaultHighThreshold,
		PatientBreachThreshold: p.HighThreshold,
		FramesPerSecond:        m.cfg.Simulator.FramesPerSecond,
		AutoFaultProbability:   m.cfg.Simulator.AutoFaultProbability,
		AutoFaultDuration:      m.cfg.Simulator.AutoFaultDuration,
	}
}

// usable 判断注册表中的设备是否仍可复用
// 已终结或进入错误状态的设备在下次访问时被淘汰并惰性重建
func usable(dev *simulator.MockHeatmapDevice) bool {
	if dev == nil {
		return false
	}
	switch dev.Status() {
	case models.StatusDisposed, models.StatusError:
		return false
	}
	return true
}

// GetOrCreateDevice 获取患者的现存设备，不存在则创建并立即启动
//
// 并发调用下保证每个患者只创建一台设备（创建路径双重检查加锁），
// 竞争失败方弃用自己未启动的实例
func (m *MockDeviceManager) GetOrCreateDevice(ctx context.Context, patientID string) (*simulator.MockHeatmapDevice, error) {
	m.mu.RLock()
	dev := m.devices[patientID]
	m.mu.RUnlock()
	if usable(dev) {
		return dev, nil
	}

	// 外部持久化校验：患者必须存在且未停用
	exists, err := m.dir.PatientExists(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify patient: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}
	patient, err := m.dir.GetPatient(ctx, patientID,
		m.cfg.Thresholds.DefaultLowThreshold, m.cfg.Thresholds.DefaultHighThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to load patient: %w", err)
	}

	// 锁外构建候选实例，缩短临界区
	candidate := simulator.NewMockHeatmapDevice(patientID, m.deviceSettings(patient), m.logger)

	m.mu.Lock()
	if existing := m.devices[patientID]; usable(existing) {
		// 竞争失败：弃用候选实例（未启动，无需清理）
		m.mu.Unlock()
		return existing, nil
	}
	m.devices[patientID] = candidate
	m.mu.Unlock()

	if m.onCreate != nil {
		m.onCreate(candidate)
	}
	if err := candidate.Start(); err != nil {
		m.mu.Lock()
		delete(m.devices, patientID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to start device: %w", err)
	}

	m.logger.Info("Mock device created",
		zap.String("device_id", candidate.DeviceID()),
		zap.String("patient_id", patientID),
	)
	return candidate, nil
}

// DevicesForClinician 返回医生被授权患者名下已注册且未终结的设备
// 未审批的医生得到空集合（非错误）
func (m *MockDeviceManager) DevicesForClinician(ctx context.Context, clinicianID string) ([]*simulator.MockHeatmapDevice, error) {
	ids, err := m.dir.AssignedPatientIDs(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve assigned patients: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := []*simulator.MockHeatmapDevice{}
	for _, id := range ids {
		if dev := m.devices[id]; usable(dev) {
			devices = append(devices, dev)
		}
	}
	return devices, nil
}

// DeviceIfAuthorized 仅当患者在医生的授权集合内时返回其设备
// 授权不通过按缺失结果处理（返回nil且记录警告），不是错误
func (m *MockDeviceManager) DeviceIfAuthorized(ctx context.Context, clinicianID, patientID string) (*simulator.MockHeatmapDevice, error) {
	ids, err := m.dir.AssignedPatientIDs(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve assigned patients: %w", err)
	}

	authorized := false
	for _, id := range ids {
		if id == patientID {
			authorized = true
			break
		}
	}
	if !authorized {
		// 审计用途的拒绝日志
		m.logger.Warn("Unauthorized device access denied",
			zap.String("clinician_id", clinicianID),
			zap.String("patient_id", patientID),
		)
		return nil, nil
	}

	m.mu.RLock()
	dev := m.devices[patientID]
	m.mu.RUnlock()
	if !usable(dev) {
		return nil, nil
	}
	return dev, nil
}

// PatientDeviceInfoForClinician 看板聚合视图：医生全部被分配患者的概要，
// 包含没有运行设备的患者，并标注设备状态与最近报警位
func (m *MockDeviceManager) PatientDeviceInfoForClinician(ctx context.Context, clinicianID string) ([]PatientDeviceInfo, error) {
	patients, err := m.dir.AssignedPatients(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve assigned patients: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]PatientDeviceInfo, 0, len(patients))
	for _, p := range patients {
		info := PatientDeviceInfo{
			PatientID:   p.PatientID,
			PatientName: p.FullName,
		}

		if dev := m.devices[p.PatientID]; dev != nil && dev.Status() != models.StatusDisposed {
			info.HasDevice = true
			info.Status = dev.Status()
			if frame := dev.CurrentFrame(); frame != nil {
				info.LastAlerts = frame.Alerts
				info.LastFrameAt = frame.Timestamp
				info.LastFrameNum = frame.FrameNumber
			}
		}

		infos = append(infos, info)
	}
	return infos, nil
}

// DisposeDevice 停止并终结指定患者的设备，从注册表移除
func (m *MockDeviceManager) DisposeDevice(ctx context.Context, patientID string) error {
	m.mu.Lock()
	dev := m.devices[patientID]
	delete(m.devices, patientID)
	m.mu.Unlock()

	if dev == nil {
		return nil
	}
	return dev.Dispose(ctx)
}

// Close 并发停止并终结全部注册设备，等待完成后返回
func (m *MockDeviceManager) Close(ctx context.Context) error {
	m.mu.Lock()
	devices := make([]*simulator.MockHeatmapDevice, 0, len(m.devices))
	for _, dev := range m.devices {
		devices = append(devices, dev)
	}
	m.devices = make(map[string]*simulator.MockHeatmapDevice)
	m.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(devices))
	for _, dev := range devices {
		wg.Add(1)
		go func(d *simulator.MockHeatmapDevice) {
			defer wg.Done()
			if err := d.Dispose(ctx); err != nil {
				errCh <- fmt.Errorf("dispose %s: %w", d.DeviceID(), err)
			}
		}(dev)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		// 记录但不中断：其余设备已各自完成终结
		m.logger.Error("Failed to dispose device during shutdown", zap.Error(err))
	}

	m.logger.Info("Device manager closed", zap.Int("devices", len(devices)))
	return nil
}
