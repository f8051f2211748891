package models

// SyncStatus tags a locally stored record with its reconciliation state.
type SyncStatus string

const (
	// SyncStatusSynced means the local copy matched the remote store the
	// last time the record completed a remote round-trip.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusPending means the local copy carries mutations the remote
	// store has not confirmed yet.
	SyncStatusPending SyncStatus = "pending"
)

// Named local collections. Collection names double as remote table names
// for the entity collections that sync.
const (
	CollectionStudents           = "students"
	CollectionFees               = "fees"
	CollectionAttendance         = "attendance"
	CollectionSchools            = "schools"
	CollectionExams              = "exams"
	CollectionReportCards        = "report_cards"
	CollectionReceipts           = "receipts"
	CollectionNotifications      = "notifications"
	CollectionParentAccounts     = "parent_accounts"
	CollectionParentStudentLinks = "parent_student_links"
	CollectionAuthState          = "auth_state"
	CollectionOfflineCredentials = "offline_credentials"
)

// Secondary index names supported by the local store.
const (
	IndexBySchool  = "by-school"
	IndexByStudent = "by-student"
	IndexByParent  = "by-parent"
	IndexByFee     = "by-fee"
)

// AuthStateKey is the singleton key for the current session record.
const AuthStateKey = "current"

// Collections lists every local collection, in the order they were added
// to the schema. Used by logout to wipe client state.
func Collections() []string {
	return []string{
		CollectionStudents,
		CollectionFees,
		CollectionAttendance,
		CollectionSchools,
		CollectionExams,
		CollectionReportCards,
		CollectionReceipts,
		CollectionNotifications,
		CollectionParentAccounts,
		CollectionParentStudentLinks,
		CollectionAuthState,
		CollectionOfflineCredentials,
	}
}
