package domain

// Default catalogs seeded into every new workspace. Names are unique per
// workspace and kind.
var (
	DefaultGroups = []string{
		"Sales",
		"Billing",
		"Finance",
		"Engineering",
		"Support",
		"Product Management",
		"Management",
	}
	DefaultTicketTypes = []string{
		"Task",
		"Question",
		"Problem",
		"Incident",
		"Feature Request",
	}
	DefaultTicketTopics = []string{
		"Technical Support",
		"Billing",
		"Account",
		"Onboarding",
		"Feedback",
	}
	DefaultTags = []string{
		"FY2025",
		"Urgent",
		"VIP",
		"Bug",
		"Follow Up",
	}
	DefaultResolutions = []string{
		"Resolved",
		"Duplicate",
		"Won't Fix",
		"Cannot Reproduce",
		"Out of Scope",
	}
)

// Catalog entries the sample ticket and macro point at
const (
	OwnerGroupName       = "Management"
	SampleTypeName       = "Task"
	SampleTopicName      = "Technical Support"
	SampleTagName        = "FY2025"
	TicketStatusOpen     = "open"
	TicketPriorityUrgent = "urgent"
)

// TicketConfig holds a workspace's ticket feature flags. Exactly one per
// workspace; provisioned with every flag enabled.
type TicketConfig struct {
	HasGroups          bool `json:"hasGroups"`
	HasType            bool `json:"hasType"`
	HasTopic           bool `json:"hasTopic"`
	HasResolution      bool `json:"hasResolution"`
	HasResolutionNotes bool `json:"hasResolutionNotes"`
}

// DefaultTicketConfig returns the flags a new workspace starts with
func DefaultTicketConfig() TicketConfig {
	return TicketConfig{
		HasGroups:          true,
		HasType:            true,
		HasTopic:           true,
		HasResolution:      true,
		HasResolutionNotes: true,
	}
}

// Fields returns the config as insertable columns
func (c TicketConfig) Fields() Fields {
	return Fields{
		"has_groups":           c.HasGroups,
		"has_type":             c.HasType,
		"has_topic":            c.HasTopic,
		"has_resolution":       c.HasResolution,
		"has_resolution_notes": c.HasResolutionNotes,
	}
}

// Sample content shown to new workspace owners
const (
	SampleTicketSubject     = "Welcome to your help desk"
	SampleTicketDescription = "This sample ticket shows how tickets are routed. It is assigned to you in the Management group; close it whenever you like."
	SampleMacroName         = "Acknowledge and assign"
	SampleMacroSubject      = "We received your request"
	SampleMacroDescription  = "Thanks for reaching out. Your request is with our team and we will follow up shortly."
)
