package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jmorganca/ggml-sys/cmd"
)

func main() {
	if err := cmd.LoadDotEnv(); err != nil {
		log.Fatal(err)
	}

	// interrupting stops the running tool through its context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cmd.NewCLI().ExecuteContext(ctx)
	stop()
	cobra.CheckErr(err)
}
