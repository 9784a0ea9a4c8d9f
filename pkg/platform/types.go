package platform

// Application states reported by the controller.
const (
	StateStarted = "STARTED"
	StateStopped = "STOPPED"
	StateCrashed = "CRASHED"
)

// Task states reported by the controller.
const (
	TaskPending   = "PENDING"
	TaskRunning   = "RUNNING"
	TaskSucceeded = "SUCCEEDED"
	TaskFailed    = "FAILED"
)

// Target is the organization and space a client operates in. Either Org and
// Space or SpaceID is set.
type Target struct {
	Org     string
	Space   string
	SpaceID string
}

// Application is the live or desired state of an application.
type Application struct {
	// GUID is assigned by the controller; empty for a desired application.
	GUID string `json:"guid,omitempty"`

	// Name is unique within the space.
	Name string `json:"name"`

	// State is STARTED or STOPPED, or CRASHED when no instance is healthy.
	State string `json:"state,omitempty"`

	// Instances is the desired instance count.
	Instances int `json:"instances,omitempty"`

	// MemoryMB is the memory limit per instance.
	MemoryMB int `json:"memory_mb,omitempty"`

	// Env holds user-provided environment variables.
	Env map[string]string `json:"env,omitempty"`

	// Services lists the names of service instances bound to the application.
	Services []string `json:"services,omitempty"`
}

// HasService reports whether name is among the bound services.
func (a *Application) HasService(name string) bool {
	if a == nil {
		return false
	}
	for _, s := range a.Services {
		if s == name {
			return true
		}
	}
	return false
}

// ServiceInstance is a provisioned service.
type ServiceInstance struct {
	GUID string   `json:"guid"`
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

// HasTag reports whether the instance carries tag.
func (s *ServiceInstance) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ServiceBinding links an application to a service instance.
type ServiceBinding struct {
	GUID                string `json:"guid"`
	AppGUID             string `json:"app_guid"`
	ServiceInstanceGUID string `json:"service_instance_guid"`
}

// ServiceKey is a credential set issued by a service instance.
type ServiceKey struct {
	GUID        string         `json:"guid,omitempty"`
	Name        string         `json:"name"`
	ServiceName string         `json:"service_name"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Task is a one-off process run in an application's environment.
type Task struct {
	GUID    string `json:"guid,omitempty"`
	Name    string `json:"name"`
	Command string `json:"command"`
	State   string `json:"state,omitempty"`
}

// Done reports whether the task reached a final state.
func (t *Task) Done() bool {
	return t.State == TaskSucceeded || t.State == TaskFailed
}
