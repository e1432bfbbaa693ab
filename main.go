package main

import "vadash/internal/app"

func main() {
	app.Main()
}
