package domain

// Department owns workflow steps and scopes mutating permissions.
type Department string

const (
	DeptBusinessUnit       Department = "BusinessUnit"
	DeptFinance            Department = "Finance"
	DeptCustomsClearance   Department = "CustomsClearance"
	DeptBusinessUnitStores Department = "BusinessUnitStores"
)

// Departments lists every valid department.
func Departments() []Department {
	return []Department{DeptBusinessUnit, DeptFinance, DeptCustomsClearance, DeptBusinessUnitStores}
}

func (d Department) Valid() bool {
	switch d {
	case DeptBusinessUnit, DeptFinance, DeptCustomsClearance, DeptBusinessUnitStores:
		return true
	}
	return false
}

// StepStatus is the stored lifecycle status of a step instance. Overdue and
// Blocked are derived for presentation and never written over the stored
// status.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepOverdue    StepStatus = "overdue"
	StepBlocked    StepStatus = "blocked"
)

// ShipmentStatus combines the stored lifecycle with derived risk markers.
type ShipmentStatus string

const (
	ShipmentActive    ShipmentStatus = "active"
	ShipmentDelayed   ShipmentStatus = "delayed"
	ShipmentAtRisk    ShipmentStatus = "at_risk"
	ShipmentCompleted ShipmentStatus = "completed"
	ShipmentCancelled ShipmentStatus = "cancelled"
)

// RiskLevel is the derived risk tier of a shipment.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

// AtLeast reports whether r is the same tier as other or higher.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return riskRank[r] >= riskRank[other]
}

// Role is the organizational role of a user, independent of department.
type Role string

const (
	RolePPR        Role = "PPR"
	RoleAPR        Role = "APR"
	RoleManagement Role = "Management"
	RoleAdmin      Role = "Admin"
	RoleReadOnly   Role = "ReadOnly"
)

// PermissionLevel is the tiered authorization level.
type PermissionLevel int

const (
	LevelReadOnly PermissionLevel = 1
	LevelEdit     PermissionLevel = 2
	LevelFull     PermissionLevel = 3
)

// User is a read-only value object supplied by the identity collaborator.
type User struct {
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	Email       string          `json:"email,omitempty"`
	Department  Department      `json:"department"`
	Role        Role            `json:"role"`
	Level       PermissionLevel `json:"permission_level"`
	Permissions []string        `json:"permissions,omitempty"`
}

// HasPermission reports whether the user carries an explicit override token.
func (u User) HasPermission(token string) bool {
	for _, p := range u.Permissions {
		if p == token {
			return true
		}
	}
	return false
}

// Shipment is the per-workflow aggregate. DaysPostEta, RiskLevel,
// CurrentStepNumber and DemurrageOMR are derived on every transition and on
// tick; they are never set by callers.
type Shipment struct {
	ID                string         `json:"id"`
	ShipmentNumber    string         `json:"shipment_number"`
	Principal         string         `json:"principal,omitempty"`
	Brand             string         `json:"brand,omitempty"`
	LCNumber          string         `json:"lc_number,omitempty"`
	InvoiceAmountOMR  float64        `json:"invoice_amount_omr,omitempty"`
	ETA               string         `json:"eta" format:"date"`
	ETAEditCount      int            `json:"eta_edit_count"`
	Status            ShipmentStatus `json:"status"`
	CurrentStepNumber string         `json:"current_step_number"`
	DaysPostEta       int            `json:"days_post_eta"`
	RiskLevel         RiskLevel      `json:"risk_level"`
	DemurrageOMR      float64        `json:"demurrage_omr"`
	CreatedBy         string         `json:"created_by"`
	CreatedAt         string         `json:"created_at" format:"date-time"`
	UpdatedAt         string         `json:"updated_at" format:"date-time"`
}

// StepInstance is the per-shipment instantiation of a catalog step.
type StepInstance struct {
	ShipmentID    string     `json:"shipment_id"`
	StepNumber    string     `json:"step_number"`
	Sequence      int        `json:"sequence"`
	Name          string     `json:"name"`
	Department    Department `json:"department"`
	TargetDate    string     `json:"target_date" format:"date"`
	ActualDate    *string    `json:"actual_date,omitempty" format:"date"`
	Status        StepStatus `json:"status"`
	DerivedStatus StepStatus `json:"derived_status"`
	IsCritical    bool       `json:"is_critical"`
	IsOptional    bool       `json:"is_optional"`
	AssignedUsers []string   `json:"assigned_users,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	BlockedReason string     `json:"blocked_reason,omitempty"`
	UpdatedAt     string     `json:"updated_at" format:"date-time"`
}

// Document is a file reference attached to a shipment.
type Document struct {
	ID         string `json:"id"`
	ShipmentID string `json:"shipment_id"`
	StepNumber string `json:"step_number,omitempty"`
	Filename   string `json:"filename"`
	UploadedBy string `json:"uploaded_by"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
}
