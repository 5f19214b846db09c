package types

// Request and reply payloads of the control surface. The jsonrpc layer
// marshals these verbatim; pkg/api binds them onto the registry.

// CreateNexusRequest creates a nexus from an ordered list of replica URIs.
type CreateNexusRequest struct {
	Name      string   `json:"name"`
	UUID      string   `json:"uuid,omitempty"`
	Size      uint64   `json:"size"`
	BlockSize uint32   `json:"block_size"`
	Children  []string `json:"children"`
}

// DestroyNexusRequest destroys a nexus by name.
type DestroyNexusRequest struct {
	Name string `json:"name"`
}

// ListNexusReply lists all live nexuses.
type ListNexusReply struct {
	Nexuses []NexusDescriptor `json:"nexuses"`
}

// PublishNexusRequest exports a nexus as a device.
type PublishNexusRequest struct {
	Name string `json:"name"`
}

// PublishNexusReply carries the device path of the export.
type PublishNexusReply struct {
	DevicePath string `json:"device_path"`
}

// UnpublishNexusRequest tears down the export of a nexus.
type UnpublishNexusRequest struct {
	Name string `json:"name"`
}

// AddChildRequest attaches a replica to a live nexus.
type AddChildRequest struct {
	Nexus string `json:"nexus"`
	URI   string `json:"uri"`
}

// RemoveChildRequest detaches a replica from a live nexus.
type RemoveChildRequest struct {
	Nexus string `json:"nexus"`
	URI   string `json:"uri"`
}

// MarkChildSyncedRequest promotes a rebuilt child to online.
type MarkChildSyncedRequest struct {
	Nexus string `json:"nexus"`
	URI   string `json:"uri"`
}

// ChildOperationRequest applies an administrative action to one child.
type ChildOperationRequest struct {
	Nexus  string      `json:"nexus"`
	URI    string      `json:"uri"`
	Action ChildAction `json:"action"`
}

// ChildOperationReply reports the resulting child and nexus states.
type ChildOperationReply struct {
	Success    bool       `json:"success"`
	ChildState ChildState `json:"child_state"`
	NexusState NexusState `json:"nexus_state"`
}
