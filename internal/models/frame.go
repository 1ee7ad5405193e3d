package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 压力图网格尺寸：32x32，行优先展平为1024个单元
const (
	GridSide  = 32
	GridCells = GridSide * GridSide
)

// HeatmapFrame 单次生成的压力传感器读数帧
// 构造后不可变；设备每个生成周期产出一帧，原子替换"当前帧"后分发给订阅者
type HeatmapFrame struct {
	Timestamp   time.Time `json:"timestamp"`
	FrameNumber uint64    `json:"frame_number"` // 设备内单调递增计数
	PatientID   string    `json:"patient_id"`
	DeviceID    string    `json:"device_id"`

	// PressureData 行优先32x32网格，每个单元位于[MinValue, MaxValue]内
	// （断连故障强制全零帧是该范围不变式的唯一例外）
	PressureData [GridCells]int `json:"pressure_data"`

	ActiveFaults DeviceFault  `json:"active_faults"` // 生成该帧时生效的故障位
	Alerts       MedicalAlert `json:"alerts"`        // 该帧检出的报警位

	PeakPressure       int      `json:"peak_pressure"`        // 全帧最大单元值（不做聚类过滤）
	ContactAreaPercent float64  `json:"contact_area_percent"` // 超过基础压力的单元占比
	Scenario           Scenario `json:"scenario"`
}

// Data 返回网格数据的防御性拷贝
func (f *HeatmapFrame) Data() []int {
	data := make([]int, GridCells)
	copy(data, f.PressureData[:])
	return data
}

// ToCSV 将网格序列化为规范文本形式：32行，每行32个逗号分隔整数，
// 行间以换行符连接，末尾无换行。该文本形状是与存储协作方的兼容边界，
// 必须与ParseCSV精确往返
func (f *HeatmapFrame) ToCSV() string {
	var b strings.Builder
	// 预估容量：每个单元最多3位数字+分隔符
	b.Grow(GridCells * 4)
	for row := 0; row < GridSide; row++ {
		if row > 0 {
			b.WriteByte('\n')
		}
		for col := 0; col < GridSide; col++ {
			if col > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(f.PressureData[row*GridSide+col]))
		}
	}
	return b.String()
}

// ParseCSV 解析ToCSV产出的文本，还原为1024个整数的网格
func ParseCSV(s string) ([GridCells]int, error) {
	var grid [GridCells]int

	rows := strings.Split(s, "\n")
	if len(rows) != GridSide {
		return grid, fmt.Errorf("expected %d rows, got %d", GridSide, len(rows))
	}

	for r, row := range rows {
		cols := strings.Split(row, ",")
		if len(cols) != GridSide {
			return grid, fmt.Errorf("row %d: expected %d columns, got %d", r, GridSide, len(cols))
		}
		for c, cell := range cols {
			v, err := strconv.Atoi(strings.TrimSpace(cell))
			if err != nil {
				return grid, fmt.Errorf("row %d col %d: invalid value %q: %w", r, c, cell, err)
			}
			grid[r*GridSide+c] = v
		}
	}

	return grid, nil
}
