package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           offlined API
// @version         1.0
// @description     HTTP API for offline model package management and question answering.
//
// @contact.name   offlined maintainers
// @contact.url    https://github.com/your-org/offlined
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
