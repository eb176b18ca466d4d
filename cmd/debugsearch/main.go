// Command debugsearch exercises one configured search engine against a
// single query, printing the raw SearchResult — a one-shot debug tool for
// checking an engines.yaml entry's selectors and pagination before
// wiring it into a running Lyra instance.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lyra-research/lyra/internal/search"
)

func main() {
	enginesPath := os.Getenv("LYRA_ENGINES")
	if enginesPath == "" {
		enginesPath = "engines.yaml"
	}
	engineName := os.Getenv("LYRA_ENGINE")
	q := "what is love"
	if len(os.Args) > 1 {
		q = os.Args[1]
	}

	data, err := os.ReadFile(enginesPath)
	if err != nil {
		fmt.Println("read engines file:", err)
		os.Exit(1)
	}
	cfg, err := search.LoadFileConfig(data)
	if err != nil {
		fmt.Println("parse engines file:", err)
		os.Exit(1)
	}
	if engineName == "" && len(cfg.Engines) > 0 {
		engineName = cfg.Engines[0].Name
	}

	var chosen *search.EngineConfig
	for i := range cfg.Engines {
		if cfg.Engines[i].Name == engineName {
			chosen = &cfg.Engines[i]
			break
		}
	}
	if chosen == nil {
		fmt.Printf("engine %q not found in %s\n", engineName, enginesPath)
		os.Exit(1)
	}

	eng := &search.GenericEngine{Config: *chosen, UserAgent: "debugsearch/1.0"}
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	body, err := eng.FetchPage(ctx, q, 1)
	if err != nil {
		fmt.Println("err:", err)
		os.Exit(1)
	}
	res := eng.Parse(body)
	for i, item := range res.Items {
		fmt.Printf("%d. %s — %s\n", i+1, item.Title, item.URL)
	}
	if res.CaptchaDetected {
		fmt.Println("captcha detected:", res.CaptchaProvider)
	}
}
