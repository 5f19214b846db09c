/*
Package api binds the nexus control surface onto the JSON-RPC server.

Each method decodes its typed request from pkg/types, calls the registry
and returns the typed reply; domain errors carry their kind across the
wire via the jsonrpc code mapping.

Methods:

	create_nexus       CreateNexusRequest      ──► NexusDescriptor
	destroy_nexus      DestroyNexusRequest     ──► void
	list_nexus         (none)                  ──► ListNexusReply
	publish_nexus      PublishNexusRequest     ──► PublishNexusReply
	unpublish_nexus    UnpublishNexusRequest   ──► void
	add_child          AddChildRequest         ──► void
	remove_child       RemoveChildRequest      ──► void
	child_operation    ChildOperationRequest   ──► ChildOperationReply
	mark_child_synced  MarkChildSyncedRequest  ──► void
*/
package api
