package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Patient 患者记录（仅本服务需要的只读字段）
type Patient struct {
	PatientID     string
	FullName      string
	LowThreshold  int // 患者配置的低压报警阈值（未配置时取默认值）
	HighThreshold int // 患者配置的高压报警阈值（未配置时取默认值）
}

// PatientSummary 临床看板用的患者概要
type PatientSummary struct {
	PatientID string
	FullName  string
}

// PatientRepository 患者与临床医生授权查询仓库
// 本模拟核心只做只读查询：患者存在性、医生审批状态、分配关系
type PatientRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPatientRepository 创建患者仓库
func NewPatientRepository(db *sql.DB, logger *zap.Logger) *PatientRepository {
	return &PatientRepository{
		db:     db,
		logger: logger,
	}
}

// PatientExists 判断患者是否存在且未停用
func (r *PatientRepository) PatientExists(ctx context.Context, patientID string) (bool, error) {
	if patientID == "" {
		return false, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM patients
			WHERE patient_id = $1 AND is_active = TRUE
		)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, patientID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check patient existence: %w", err)
	}
	return exists, nil
}

// GetPatient 获取患者记录，阈值未配置时以默认值回填
func (r *PatientRepository) GetPatient(ctx context.Context, patientID string, defaultLow, defaultHigh int) (*Patient, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT
			patient_id,
			full_name,
			COALESCE(low_alert_threshold, $2),
			COALESCE(high_alert_threshold, $3)
		FROM patients
		WHERE patient_id = $1 AND is_active = TRUE`

	var p Patient
	err := r.db.QueryRowContext(ctx, query, patientID, defaultLow, defaultHigh).Scan(
		&p.PatientID,
		&p.FullName,
		&p.LowThreshold,
		&p.HighThreshold,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("patient not found: %s", patientID)
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}

	return &p, nil
}

// IsClinicianApproved 判断临床医生是否已通过审批
// 记录不存在时视为未审批（授权侧按零分配患者处理，不作为错误）
func (r *PatientRepository) IsClinicianApproved(ctx context.Context, clinicianID string) (bool, error) {
	if clinicianID == "" {
		return false, fmt.Errorf("clinician_id is required")
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM clinicians
			WHERE clinician_id = $1 AND is_approved = TRUE
		)`

	var approved bool
	if err := r.db.QueryRowContext(ctx, query, clinicianID).Scan(&approved); err != nil {
		return false, fmt.Errorf("failed to check clinician approval: %w", err)
	}
	return approved, nil
}

// AssignedPatientIDs 获取医生当前被分配且未停用的患者ID集合
// 医生未审批时返回空集合（非错误）
func (r *PatientRepository) AssignedPatientIDs(ctx context.Context, clinicianID string) ([]string, error) {
	approved, err := r.IsClinicianApproved(ctx, clinicianID)
	if err != nil {
		return nil, err
	}
	if !approved {
		return []string{}, nil
	}

	query := `
		SELECT p.patient_id
		FROM patient_assignments pa
		JOIN patients p ON p.patient_id = pa.patient_id
		WHERE pa.clinician_id = $1
		  AND pa.is_active = TRUE
		  AND p.is_active = TRUE
		ORDER BY p.patient_id`

	rows, err := r.db.QueryContext(ctx, query, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assigned patients: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan patient_id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assigned patients: %w", err)
	}

	return ids, nil
}

// AssignedPatients 获取医生当前被分配患者的概要列表（看板聚合视图用）
func (r *PatientRepository) AssignedPatients(ctx context.Context, clinicianID string) ([]PatientSummary, error) {
	approved, err := r.IsClinicianApproved(ctx, clinicianID)
	if err != nil {
		return nil, err
	}
	if !approved {
		return []PatientSummary{}, nil
	}

	query := `
		SELECT p.patient_id, p.full_name
		FROM patient_assignments pa
		JOIN patients p ON p.patient_id = pa.patient_id
		WHERE pa.clinician_id = $1
		  AND pa.is_active = TRUE
		  AND p.is_active = TRUE
		ORDER BY p.full_name`

	rows, err := r.db.QueryContext(ctx, query, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assigned patients: %w", err)
	}
	defer rows.Close()

	patients := []PatientSummary{}
	for rows.Next() {
		var p PatientSummary
		if err := rows.Scan(&p.PatientID, &p.FullName); err != nil {
			return nil, fmt.Errorf("failed to scan patient summary: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patient summaries: %w", err)
	}

	return patients, nil
}
