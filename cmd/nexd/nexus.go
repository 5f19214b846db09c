package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nexd-io/nexd/pkg/api"
	"github.com/nexd-io/nexd/pkg/jsonrpc"
	"github.com/nexd-io/nexd/pkg/types"
)

// Nexus commands
var nexusCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Manage nexuses",
}

var nexusCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a nexus from replica URIs",
	Long: `Create a nexus mirroring across the given replica children.

Children are replica URIs, for example:
  file:///var/lib/nexd/r1.img
  file:///dev/sdb?blk=4096`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		size, _ := cmd.Flags().GetUint64("size")
		blockSize, _ := cmd.Flags().GetUint32("block-size")
		children, _ := cmd.Flags().GetStringSlice("child")
		nexusUUID, _ := cmd.Flags().GetString("uuid")

		ctx, cancel := callCtx()
		defer cancel()

		var desc types.NexusDescriptor
		err := jsonrpc.Call(ctx, socketPath(cmd), api.MethodCreateNexus, types.CreateNexusRequest{
			Name:      name,
			UUID:      nexusUUID,
			Size:      size,
			BlockSize: blockSize,
			Children:  children,
		}, &desc)
		if err != nil {
			return err
		}

		fmt.Printf("Created nexus '%s'\n", desc.Name)
		fmt.Printf("  UUID: %s\n", desc.UUID)
		fmt.Printf("  State: %s\n", desc.State)
		fmt.Printf("  Children: %d\n", len(desc.Children))
		return nil
	},
}

var nexusDestroyCmd = &cobra.Command{
	Use:   "destroy NAME",
	Short: "Destroy a nexus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := callCtx()
		defer cancel()

		err := jsonrpc.Call(ctx, socketPath(cmd), api.MethodDestroyNexus,
			types.DestroyNexusRequest{Name: args[0]}, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Destroyed nexus '%s'\n", args[0])
		return nil
	},
}

var nexusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nexuses",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := callCtx()
		defer cancel()

		var list types.ListNexusReply
		if err := jsonrpc.Call(ctx, socketPath(cmd), api.MethodListNexus, nil, &list); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tUUID\tSIZE\tSTATE\tCHILDREN\tDEVICE")
		for _, n := range list.Nexuses {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
				n.Name, n.UUID, n.Size, n.State, len(n.Children), n.DevicePath)
		}
		return w.Flush()
	},
}

var nexusShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show one nexus with its children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := callCtx()
		defer cancel()

		var list types.ListNexusReply
		if err := jsonrpc.Call(ctx, socketPath(cmd), api.MethodListNexus, nil, &list); err != nil {
			return err
		}

		for _, n := range list.Nexuses {
			if n.Name != args[0] && n.UUID != args[0] {
				continue
			}
			fmt.Printf("Name: %s\n", n.Name)
			fmt.Printf("UUID: %s\n", n.UUID)
			fmt.Printf("Size: %d\n", n.Size)
			fmt.Printf("Block size: %d\n", n.BlockSize)
			fmt.Printf("State: %s\n", n.State)
			if n.DevicePath != "" {
				fmt.Printf("Device: %s\n", n.DevicePath)
			}
			fmt.Println("Children:")
			for _, c := range n.Children {
				fmt.Printf("  %-10s %s\n", c.State, c.URI)
			}
			return nil
		}
		return fmt.Errorf("nexus '%s' not found", args[0])
	},
}

var nexusPublishCmd = &cobra.Command{
	Use:   "publish NAME",
	Short: "Export a nexus as a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := callCtx()
		defer cancel()

		var reply types.PublishNexusReply
		err := jsonrpc.Call(ctx, socketPath(cmd), api.MethodPublishNexus,
			types.PublishNexusRequest{Name: args[0]}, &reply)
		if err != nil {
			return err
		}
		fmt.Printf("Published nexus '%s' at %s\n", args[0], reply.DevicePath)
		return nil
	},
}

var nexusUnpublishCmd = &cobra.Command{
	Use:   "unpublish NAME",
	Short: "Tear down the export of a nexus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := callCtx()
		defer cancel()

		err := jsonrpc.Call(ctx, socketPath(cmd), api.MethodUnpublishNexus,
			types.UnpublishNexusRequest{Name: args[0]}, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Unpublished nexus '%s'\n", args[0])
		return nil
	},
}

func init() {
	nexusCmd.AddCommand(nexusCreateCmd)
	nexusCmd.AddCommand(nexusDestroyCmd)
	nexusCmd.AddCommand(nexusListCmd)
	nexusCmd.AddCommand(nexusShowCmd)
	nexusCmd.AddCommand(nexusPublishCmd)
	nexusCmd.AddCommand(nexusUnpublishCmd)

	nexusCreateCmd.Flags().Uint64("size", 0, "Logical device size in bytes")
	nexusCreateCmd.Flags().Uint32("block-size", 512, "Logical block size in bytes")
	nexusCreateCmd.Flags().StringSlice("child", nil, "Replica URI (repeatable)")
	nexusCreateCmd.Flags().String("uuid", "", "Nexus UUID (generated when empty)")
	nexusCreateCmd.MarkFlagRequired("size")
	nexusCreateCmd.MarkFlagRequired("child")
}
