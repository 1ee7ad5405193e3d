package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PatientRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewPatientRepository(db, logger)

	return db, mock, repo
}

func TestPatientExists_Found(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"exists"}).AddRow(true)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("patient-123").
		WillReturnRows(rows)

	exists, err := repo.PatientExists(context.Background(), "patient-123")

	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatientExists_NotFound(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"exists"}).AddRow(false)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("patient-999").
		WillReturnRows(rows)

	exists, err := repo.PatientExists(context.Background(), "patient-999")

	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatientExists_EmptyID(t *testing.T) {
	db, _, repo := setupMockDB(t)
	defer db.Close()

	_, err := repo.PatientExists(context.Background(), "")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "patient_id is required")
}

func TestGetPatient_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"patient_id", "full_name", "low_alert_threshold", "high_alert_threshold",
	}).AddRow(
		"patient-123", "Jamie Doe", 25, 210,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("patient-123", 20, 200).
		WillReturnRows(rows)

	patient, err := repo.GetPatient(context.Background(), "patient-123", 20, 200)

	require.NoError(t, err)
	require.NotNil(t, patient)
	assert.Equal(t, "patient-123", patient.PatientID)
	assert.Equal(t, "Jamie Doe", patient.FullName)
	assert.Equal(t, 25, patient.LowThreshold)
	assert.Equal(t, 210, patient.HighThreshold)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPatient_DefaultThresholds(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	// 患者未配置阈值：COALESCE回填传入的默认值
	rows := sqlmock.NewRows([]string{
		"patient_id", "full_name", "low_alert_threshold", "high_alert_threshold",
	}).AddRow(
		"patient-123", "Jamie Doe", 20, 200,
	)

	mock.ExpectQuery(`COALESCE`).
		WithArgs("patient-123", 20, 200).
		WillReturnRows(rows)

	patient, err := repo.GetPatient(context.Background(), "patient-123", 20, 200)

	require.NoError(t, err)
	assert.Equal(t, 20, patient.LowThreshold)
	assert.Equal(t, 200, patient.HighThreshold)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPatient_NotFound(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("patient-999", 20, 200).
		WillReturnError(sql.ErrNoRows)

	patient, err := repo.GetPatient(context.Background(), "patient-999", 20, 200)

	assert.Error(t, err)
	assert.Nil(t, patient)
	assert.Contains(t, err.Error(), "patient not found")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsClinicianApproved(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"exists"}).AddRow(true)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("clinician-1").
		WillReturnRows(rows)

	approved, err := repo.IsClinicianApproved(context.Background(), "clinician-1")

	require.NoError(t, err)
	assert.True(t, approved)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignedPatientIDs_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	approvedRows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("clinician-1").
		WillReturnRows(approvedRows)

	patientRows := sqlmock.NewRows([]string{"patient_id"}).
		AddRow("patient-1").
		AddRow("patient-2")
	mock.ExpectQuery(`SELECT p.patient_id`).
		WithArgs("clinician-1").
		WillReturnRows(patientRows)

	ids, err := repo.AssignedPatientIDs(context.Background(), "clinician-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"patient-1", "patient-2"}, ids)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignedPatientIDs_UnapprovedShortCircuits(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	// 未审批医生：只查审批状态，不再查分配关系
	approvedRows := sqlmock.NewRows([]string{"exists"}).AddRow(false)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("clinician-2").
		WillReturnRows(approvedRows)

	ids, err := repo.AssignedPatientIDs(context.Background(), "clinician-2")

	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NotNil(t, ids)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignedPatients_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	approvedRows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("clinician-1").
		WillReturnRows(approvedRows)

	patientRows := sqlmock.NewRows([]string{"patient_id", "full_name"}).
		AddRow("patient-1", "Alex Smith").
		AddRow("patient-2", "Jamie Doe")
	mock.ExpectQuery(`SELECT p.patient_id, p.full_name`).
		WithArgs("clinician-1").
		WillReturnRows(patientRows)

	patients, err := repo.AssignedPatients(context.Background(), "clinician-1")

	require.NoError(t, err)
	require.Len(t, patients, 2)
	assert.Equal(t, "patient-1", patients[0].PatientID)
	assert.Equal(t, "Alex Smith", patients[0].FullName)
	assert.Equal(t, "Jamie Doe", patients[1].FullName)

	require.NoError(t, mock.ExpectationsWereMet())
}
