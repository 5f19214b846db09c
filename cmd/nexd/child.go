package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexd-io/nexd/pkg/api"
	"github.com/nexd-io/nexd/pkg/jsonrpc"
	"github.com/nexd-io/nexd/pkg/types"
)

// Child commands
var childCmd = &cobra.Command{
	Use:   "child",
	Short: "Manage replica children of a nexus",
}

var childAddCmd = &cobra.Command{
	Use:   "add NEXUS URI",
	Short: "Attach a replica to a nexus",
	Long: `Attach a replica to a live nexus. The child starts degraded and
receives writes immediately, but serves no reads until it is rebuilt and
promoted with 'child synced'.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := callCtx()
		defer cancel()

		err := jsonrpc.Call(ctx, socketPath(cmd), api.MethodAddChild,
			types.AddChildRequest{Nexus: args[0], URI: args[1]}, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Added child to '%s' (degraded, pending rebuild)\n", args[0])
		return nil
	},
}

var childRemoveCmd = &cobra.Command{
	Use:   "remove NEXUS URI",
	Short: "Detach a replica from a nexus",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := callCtx()
		defer cancel()

		err := jsonrpc.Call(ctx, socketPath(cmd), api.MethodRemoveChild,
			types.RemoveChildRequest{Nexus: args[0], URI: args[1]}, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Removed child from '%s'\n", args[0])
		return nil
	},
}

var childSyncedCmd = &cobra.Command{
	Use:   "synced NEXUS URI",
	Short: "Promote a rebuilt child to online",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := callCtx()
		defer cancel()

		err := jsonrpc.Call(ctx, socketPath(cmd), api.MethodMarkChildSynced,
			types.MarkChildSyncedRequest{Nexus: args[0], URI: args[1]}, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Child promoted to online\n")
		return nil
	},
}

func childActionCmd(use, short string, action types.ChildAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := callCtx()
			defer cancel()

			var reply types.ChildOperationReply
			err := jsonrpc.Call(ctx, socketPath(cmd), api.MethodChildOperation,
				types.ChildOperationRequest{Nexus: args[0], URI: args[1], Action: action}, &reply)
			if err != nil {
				return err
			}
			fmt.Printf("Child is %s, nexus is %s\n", reply.ChildState, reply.NexusState)
			return nil
		},
	}
}

func init() {
	childCmd.AddCommand(childAddCmd)
	childCmd.AddCommand(childRemoveCmd)
	childCmd.AddCommand(childSyncedCmd)
	childCmd.AddCommand(childActionCmd("online NEXUS URI", "Bring a child back into service", types.ChildActionOnline))
	childCmd.AddCommand(childActionCmd("offline NEXUS URI", "Take a child out of service", types.ChildActionOffline))
	childCmd.AddCommand(childActionCmd("fault NEXUS URI", "Mark a child unrecoverable", types.ChildActionFault))
}
