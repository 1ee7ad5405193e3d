package models

import "strings"

// DeviceFault 设备故障位掩码（多个故障可同时生效，按位或组合）
type DeviceFault uint8

const (
	FaultDeadPixels DeviceFault = 1 << iota // 坏点：约5%的单元读数归零
	FaultDisconnected                       // 断连：整帧归零
	FaultCalibrationDrift                   // 校准漂移：全部单元缓慢增加偏移
	FaultElectricalNoise                    // 电气噪声：约2%的单元随机跳变到接近满量程
	FaultSaturation                         // 饱和：整帧为满量程
	FaultPartialDataLoss                    // 部分数据丢失：随机一段行归零
)

// FaultNone 无故障
const FaultNone DeviceFault = 0

// Has 判断是否包含指定故障位
func (f DeviceFault) Has(fault DeviceFault) bool {
	return f&fault != 0
}

// With 返回叠加指定故障位后的掩码
func (f DeviceFault) With(fault DeviceFault) DeviceFault {
	return f | fault
}

// Without 返回清除指定故障位后的掩码
func (f DeviceFault) Without(fault DeviceFault) DeviceFault {
	return f &^ fault
}

var faultNames = []struct {
	bit  DeviceFault
	name string
}{
	{FaultDeadPixels, "dead_pixels"},
	{FaultDisconnected, "disconnected"},
	{FaultCalibrationDrift, "calibration_drift"},
	{FaultElectricalNoise, "electrical_noise"},
	{FaultSaturation, "saturation"},
	{FaultPartialDataLoss, "partial_data_loss"},
}

func (f DeviceFault) String() string {
	if f == FaultNone {
		return "none"
	}
	var names []string
	for _, fn := range faultNames {
		if f.Has(fn.bit) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}

// MedicalAlert 医疗报警位掩码（各报警位相互独立，可同时置位）
type MedicalAlert uint8

const (
	AlertHighPressure MedicalAlert = 1 << iota // 峰值压力达到高压报警阈值
	AlertSustainedPressure                     // 高压持续超过规定连续帧数
	AlertPositioningWarning                    // 左右半区压力失衡（坐姿不正）
	AlertThresholdBreach                       // 峰值压力达到患者阈值（与高压报警独立计算）
)

// AlertNone 无报警
const AlertNone MedicalAlert = 0

// Has 判断是否包含指定报警位
func (a MedicalAlert) Has(alert MedicalAlert) bool {
	return a&alert != 0
}

// With 返回叠加指定报警位后的掩码
func (a MedicalAlert) With(alert MedicalAlert) MedicalAlert {
	return a | alert
}

var alertNames = []struct {
	bit  MedicalAlert
	name string
}{
	{AlertHighPressure, "high_pressure"},
	{AlertSustainedPressure, "sustained_pressure"},
	{AlertPositioningWarning, "positioning_warning"},
	{AlertThresholdBreach, "threshold_breach"},
}

func (a MedicalAlert) String() string {
	if a == AlertNone {
		return "none"
	}
	var names []string
	for _, an := range alertNames {
		if a.Has(an.bit) {
			names = append(names, an.name)
		}
	}
	return strings.Join(names, "|")
}

// Scenario 模拟场景（决定压力图案随时间的调制方式）
type Scenario string

const (
	ScenarioNormalSitting        Scenario = "normal_sitting"         // 正常久坐：压力缓慢单调上升（0.5x速率）
	ScenarioPressureBuildupAlert Scenario = "pressure_buildup_alert" // 快速累积：2.0x速率，用于演示/测试报警触发
	ScenarioWeightShiftingRelief Scenario = "weight_shifting_relief" // 重心转移：左右半区按10秒周期正弦交替承重
	ScenarioSequentialDemo       Scenario = "sequential_demo"        // 顺序演示：60秒循环内按15秒阶段轮换
	ScenarioStatic               Scenario = "static"                 // 静态：无时间调制（确定性测试用）
)

// DeviceStatus 设备状态
type DeviceStatus string

const (
	StatusIdle     DeviceStatus = "idle"
	StatusRunning  DeviceStatus = "running"
	StatusError    DeviceStatus = "error"
	StatusDisposed DeviceStatus = "disposed"
)
