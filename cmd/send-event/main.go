// Command send-event posts sample CloudEvents to a locally running function,
// in the same binary content mode the platform uses.
//
//	send-event firestore --doc ABC-123 --fields '{"totalOrder": 54.9}'
//	send-event order '{"orderId":"ABC-123","dateOrder":"2026-06-01","totalOrder":54.9,"paymentType":"card","deliveryType":"pickup"}'
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/spf13/cobra"
)

const defaultTarget = "http://localhost:8080"

func main() {
	var target string
	var timeout time.Duration

	rootCmd := &cobra.Command{
		Use:          "send-event",
		Short:        "Send sample Firestore and Pub/Sub events to a local function",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&target, "target", defaultTarget, "Function URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	send := func(cmd *cobra.Command, e event.Event) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return deliver(ctx, target, e)
	}

	rootCmd.AddCommand(firestoreCmd(send))
	rootCmd.AddCommand(orderCmd(send))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type sendFunc func(cmd *cobra.Command, e event.Event) error

func deliver(ctx context.Context, target string, e event.Event) error {
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return fmt.Errorf("creating CloudEvents client: %w", err)
	}
	result := client.Send(cloudevents.ContextWithTarget(ctx, target), e)
	if cloudevents.IsUndelivered(result) {
		return fmt.Errorf("sending event %s: %w", e.ID(), result)
	}
	if !cloudevents.IsACK(result) {
		return fmt.Errorf("event %s rejected: %w", e.ID(), result)
	}
	fmt.Printf("sent %s %s\n", e.Type(), e.ID())
	return nil
}
