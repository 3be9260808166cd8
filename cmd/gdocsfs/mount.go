package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	gdocsfuse "github.com/pranavmk98/gDocsFS/fuse"
	"github.com/pranavmk98/gDocsFS/fuse/diag"
	"github.com/pranavmk98/gDocsFS/gdrive"
	"github.com/pranavmk98/gDocsFS/state"
	"github.com/pranavmk98/gDocsFS/vfs"
)

func newMountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount MOUNTPOINT",
		Short: "Mount the drive at the given directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runMount,
	}

	cmd.Flags().String("root", "root", "remote folder id to expose as the mount root")
	cmd.Flags().String("state-file", "", "path for cursor and attribute state (default ~/.gdocsfs/state.json)")
	cmd.Flags().Duration("cache-ttl", 30*time.Second, "metadata cache TTL")
	cmd.Flags().Duration("listing-ttl", 30*time.Second, "directory listing freshness window")
	cmd.Flags().Duration("poll-interval", 10*time.Second, "remote change poll cadence (0 disables polling)")
	cmd.Flags().Int("max-buffers", 64, "content buffers held in memory before eviction")
	cmd.Flags().Int("max-concurrency", 8, "concurrent remote requests")
	cmd.Flags().Int("retry-attempts", 4, "attempts per remote request before giving up")
	cmd.Flags().String("diag-addr", "", "serve in-flight operation diagnostics on this address")
	cmd.Flags().Bool("debug", false, "log raw kernel requests")
	return cmd
}

func runMount(cmd *cobra.Command, args []string) error {
	mountpoint := args[0]
	ctx := cmd.Context()

	auth := gdrive.NewAuthenticator(
		viper.GetString("client-id"),
		viper.GetString("client-secret"),
		viper.GetString("token-file"))
	httpClient, err := auth.Client(ctx)
	if err != nil {
		return err
	}
	client, err := gdrive.NewClient(ctx, httpClient)
	if err != nil {
		return fmt.Errorf("failed to create drive client: %w", err)
	}

	// Remote access stack: retries closest to the wire, then the
	// concurrency gate, then the metadata cache the projection core
	// maintains.
	retrying := gdrive.NewRetryingStore(client, viper.GetInt("retry-attempts"), 500*time.Millisecond)
	gated := gdrive.NewGatedStore(retrying, viper.GetInt("max-concurrency"))
	caching := gdrive.NewCachingStore(gated, viper.GetDuration("cache-ttl"))
	defer caching.Stop()

	st, err := state.NewStore(viper.GetString("state-file"))
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}

	v, err := vfs.New(ctx, caching, vfs.Config{
		RootID:       viper.GetString("root"),
		MaxBuffers:   viper.GetInt("max-buffers"),
		ListingTTL:   viper.GetDuration("listing-ttl"),
		PollInterval: viper.GetDuration("poll-interval"),
		State:        st,
	})
	if err != nil {
		return err
	}

	tracker := diag.NewTracker()
	if addr := viper.GetString("diag-addr"); addr != "" {
		go func() {
			log.Printf("gdocsfs: diagnostics on http://%s/ (?json, ?stacks)", addr)
			if err := http.ListenAndServe(addr, tracker.Handler()); err != nil {
				log.Printf("gdocsfs: diag listener: %v", err)
			}
		}()
	}

	root := gdocsfuse.NewRoot(v, tracker)
	server, err := gdocsfuse.Mount(mountpoint, root, viper.GetBool("debug"))
	if err != nil {
		v.Close(ctx)
		return fmt.Errorf("mount failed: %w", err)
	}
	v.SetOnInvalidateEntry(root.InvalidateEntry)
	log.Printf("gdocsfs: mounted at %s", mountpoint)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		log.Printf("gdocsfs: unmounting %s", mountpoint)
		if err := server.Unmount(); err != nil {
			log.Printf("gdocsfs: unmount failed: %v (close open files and retry)", err)
		}
		<-signals
		os.Exit(1) // second signal gives up on a clean shutdown
	}()

	server.Wait()

	// Buffered writes that never saw a close still need to reach the
	// remote before exit.
	if err := v.Close(ctx); err != nil {
		return fmt.Errorf("flush on unmount: %w", err)
	}
	return nil
}
