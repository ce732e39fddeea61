package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	chatapp "github.com/tharunsathyamoorthy/chat-application/app"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load .env: %v", err)
	}

	config, err := chatapp.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var staticFS *chatapp.StaticFS
	if _, err := os.Stat("./static"); err == nil {
		staticFS, err = chatapp.NewStaticFS(os.DirFS("./static"), "index.html")
		if err != nil {
			log.Fatalf("static files: %v", err)
		}
	}

	app := chatapp.New(nil, config, staticFS)
	app.Start()
}
