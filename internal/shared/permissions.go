package shared

// Core platform permissions.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView  = "permissions.view"
	PermPermissionsGrant = "permissions.grant"

	PermAuditView = "audit.view"
)

// Course catalogue permissions.
const (
	PermCoursesView   = "courses.view"
	PermCoursesManage = "courses.manage"
	PermCoursesCreate = "courses.create"
	PermCoursesEdit   = "courses.edit"
	PermCoursesDelete = "courses.delete"
)

// Assessment permissions.
const (
	PermQuizzesView   = "quizzes.view"
	PermQuizzesManage = "quizzes.manage"
	PermReportsView   = "reports.view"
	PermReportsExport = "reports.export"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermPermissionsGrant,
		PermAuditView,
	}
}

// CourseScopes lists all permissions related to the course catalogue.
func CourseScopes() []string {
	return []string{
		PermCoursesView,
		PermCoursesManage,
		PermCoursesCreate,
		PermCoursesEdit,
		PermCoursesDelete,
	}
}
