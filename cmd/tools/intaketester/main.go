package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ucsal/oraculo-anonimo/internal/config"
	"github.com/ucsal/oraculo-anonimo/internal/logger"
	model "github.com/ucsal/oraculo-anonimo/internal/model/intake"
	"github.com/ucsal/oraculo-anonimo/internal/service/ai"
	"github.com/ucsal/oraculo-anonimo/internal/service/intake"
)

// dryClassifier answers without calling any completion service.
type dryClassifier struct{}

func (dryClassifier) Classify(_ context.Context, req model.ClassificationRequest) (model.ClassificationResult, error) {
	raw := fmt.Sprintf("---\nDADOS PARA O BANCO/EXCEL\nTipo de manifestação: Outro\nNível de gravidade: Baixa\nAnálise: (simulação) relato com %d caracteres.\n---", len([]rune(req.ReportText)))
	return model.ClassificationResult{Raw: raw, Structured: true}, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	dry := flag.Bool("dry", false, "use a canned analysis instead of the completion service")
	handle := flag.String("handle", "", "sender handle, without @")
	name := flag.String("name", "Tester", "sender display name")
	timeout := flag.Duration("timeout", 0, "override AI_CLASSIFY_TIMEOUT")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] no .env loaded, using process environment: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *timeout > 0 {
		cfg.AI.ClassifyTimeout = *timeout
	}

	appLog := logger.NewConsoleLogger()
	defer appLog.Sync()

	ctx := context.Background()

	var classifier intake.Classifier = dryClassifier{}
	if !*dry {
		gateway, err := ai.NewServiceFromConfig(ctx, cfg.AI, appLog)
		if err != nil {
			log.Fatalf("failed to initialize classification gateway (use -dry to skip): %v", err)
		}
		classifier = gateway
	}

	svc := intake.NewService(classifier, time.Hour, appLog)
	sender := model.Sender{ID: "cli", Handle: *handle, DisplayName: *name}
	conversation := fmt.Sprintf("cli:%d", time.Now().UnixNano())

	fmt.Println("Type /start to begin, /cancel to abort, Ctrl+D to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		reply, err := svc.Handle(ctx, model.Inbound{ConversationID: conversation, Sender: sender, Text: scanner.Text()})
		if err != nil {
			log.Printf("turn failed: %v", err)
			continue
		}
		fmt.Printf("\n%s\n[state=%s]\n\n", reply.Text, reply.State)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("failed to read stdin: %v", err)
	}
}
