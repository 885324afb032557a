package kv

import (
	"fmt"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]
			if err := rpcStore.SetContext(cmd.Context(), key, []byte(value)); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			resp, ok, err := rpcStore.GetContext(cmd.Context(), key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, resp=%s\n", key, ok, resp)
			return nil
		},
	}
	demoCmd = &cobra.Command{
		Use:   "demo",
		Short: "Runs two concurrent producers on one connection",
		Long: `Runs two concurrent producers on one connection: one reads "hello", the other sets "hello" to "world".
Which one reaches the server first is not defined. A final read shows the stored value.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				value, ok, err := rpcStore.GetContext(gctx, "hello")
				if err != nil {
					return fmt.Errorf("get hello: %w", err)
				}
				if ok {
					fmt.Printf("GOT = %q\n", value)
				} else {
					fmt.Println("GOT = <absent>")
				}
				return nil
			})
			g.Go(func() error {
				if err := rpcStore.SetContext(gctx, "hello", []byte("world")); err != nil {
					return fmt.Errorf("set hello: %w", err)
				}
				fmt.Println("SET = ok")
				return nil
			})
			if err := g.Wait(); err != nil {
				return err
			}

			value, ok, err := rpcStore.GetContext(ctx, "hello")
			if err != nil {
				return fmt.Errorf("get hello: %w", err)
			}
			fmt.Printf("key=hello, found=%v, resp=%s\n", ok, value)
			return nil
		},
	}
)
