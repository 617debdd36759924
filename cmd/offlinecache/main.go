package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jgivc/offlinecache/internal/app"
)

func main() {
	cfgFileName := flag.String("c", "config.yml", "Path to config file")
	flag.Parse()

	app := app.New(*cfgFileName)
	app.Start()

	c := make(chan os.Signal, 1)
	done := make(chan struct{})

	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		defer close(done)

		for sig := range c {
			switch sig {
			case syscall.SIGUSR1:
				go app.Batch()
			case syscall.SIGUSR2:
				go app.Dump()
			case syscall.SIGTERM, os.Interrupt:
				fmt.Println("Received termination signal. Shutting down...")

				return
			}
		}
	}()

	<-done
	signal.Stop(c)
	app.Stop()
	time.Sleep(time.Second)
	fmt.Println("done")
}
