package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"dynamic-chatbot/internal/chatbot"
	"dynamic-chatbot/internal/data"
)

var version = "0.1.0"

func main() {
	// .env is optional; it usually carries REFERENCE_API_KEY
	_ = godotenv.Load()

	config, err := chatbot.ParseFlags(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("failure to parse flags: %s", err)
	}
	for _, warning := range config.Warnings {
		log.Printf("WARNING: %s", warning)
	}
	flags := config.Flags

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// after the first signal, restore default handling so a second CTRL-C kills
	go func() {
		<-ctx.Done()
		stop()
	}()

	// All datasets follow the same API, found in internal/data/dataset.go
	fmt.Println("Setting up dataset.")
	dataset, err := data.New(flags.Dataset, data.Options{
		DataDir:   flags.DataDir,
		VocabSize: flags.VocabSize,
		MaxSeqLen: flags.MaxSeqLen,
	})
	if err != nil {
		log.Fatalf("failure to set up dataset: %s", err)
	}

	fmt.Println("Creating DynamicBot.")
	bot := chatbot.NewDynamicBot(dataset, chatbot.Options{
		CkptDir:      flags.CkptDir,
		BatchSize:    flags.BatchSize,
		StateSize:    flags.StateSize,
		EmbedSize:    flags.EmbedSize,
		LearningRate: flags.LearningRate,
		LRDecay:      flags.LRDecay,
		StepsPerCkpt: flags.StepsPerCkpt,
		Temperature:  flags.Temperature,
		IsChatting:   flags.Decode,
	})

	fmt.Println("Compiling DynamicBot.")
	if err = bot.Compile(flags.MaxGradient, flags.ResetModel); err != nil {
		log.Fatalf("failure to compile DynamicBot: %s", err)
	}

	if !flags.Decode {
		fmt.Println("Training bot. CTRL-C to stop training.")
		if err = bot.Train(ctx, dataset, flags.NbEpoch); err != nil {
			log.Fatalf("failure to train DynamicBot: %s", err)
		}
		return
	}

	fmt.Println("Initiating chat session.")
	fmt.Printf("Your bot has a temperature of %.2f. %s\n", flags.Temperature, chatbot.TemperatureRemark(flags.Temperature))
	switch {
	case flags.Serve:
		var reference chatbot.Responder
		if config.Reference.Enabled() {
			reference = chatbot.NewReferenceResponder(config.Reference)
		}
		err = chatbot.NewChatServer(bot, reference, config, version).Run(ctx)
	case isatty.IsTerminal(os.Stdin.Fd()):
		err = chatbot.RunTUI(ctx, bot, fmt.Sprintf("DynamicBot · %s · temperature %.2f", dataset.Name(), flags.Temperature))
	default:
		err = bot.Decode(ctx, os.Stdin, os.Stdout)
	}
	if err != nil {
		log.Fatalf("failure in chat session: %s", err)
	}
}
