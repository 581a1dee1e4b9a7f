package main

import "shortssync/internal/app"

func main() {
	app.Main()
}
