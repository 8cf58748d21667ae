package main

import (
	"os"

	"hotelpipe/internal/app"
)

func main() {
	os.Exit(app.Execute())
}
