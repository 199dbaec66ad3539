package main

import (
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/sensor-sampler/internal/bank"
	"github.com/sweeney/sensor-sampler/internal/clock"
	"github.com/sweeney/sensor-sampler/internal/hal"
	"github.com/sweeney/sensor-sampler/internal/metrics"
	"github.com/sweeney/sensor-sampler/internal/mqtt"
	"github.com/sweeney/sensor-sampler/internal/report"
	"github.com/sweeney/sensor-sampler/internal/status"
	"github.com/sweeney/sensor-sampler/internal/store"
	"github.com/sweeney/sensor-sampler/internal/web"
)

// daemon owns the channels. Everything that touches a Handler runs on the
// runLoop goroutine; HTTP handlers only see tracker snapshots and reach the
// channels through the command queue.
type daemon struct {
	timer  *clock.Timer
	bank   *bank.Bank
	button *hal.Button // nil when no button is wired

	publisher  mqtt.Publisher        // nil when MQTT is disabled
	mqttStatus mqtt.ConnectionStatus // nil when MQTT is disabled
	tracker    *status.Tracker
	metrics    *metrics.Metrics
	hub        *web.Hub       // nil when HTTP is disabled
	reporter   *report.Writer // nil when reports are disabled
	store      store.Store    // nil when settings are not persisted
	commands   <-chan web.Command
	heartbeat  *clock.Deadline // nil when heartbeats are disabled

	ticks uint64
	now   func() time.Time
}

// start publishes the initial state before the first tick.
func (d *daemon) start() {
	d.refresh()
	d.reportAll()
	d.publishStatus(mqtt.EventStartup, "")
}

func (d *daemon) runLoop(tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			d.refresh()
			d.publishStatus(mqtt.EventShutdown, signalName(s))
			return nil

		case <-tick:
			d.step()

		case cmd := <-d.commands:
			d.apply(cmd)
		}
	}
}

// step runs one scheduler tick.
func (d *daemon) step() {
	d.timer.Update()
	d.ticks++
	d.metrics.Tick()

	if d.button != nil {
		d.button.Update(d.timer)
		if d.button.Pressed() {
			on := !d.bank.AnyPowered()
			log.Printf("button: power %s for all channels", onOff(on))
			d.bank.SetPowerAll(on)
			for _, h := range d.bank.Handlers() {
				d.persist(h.Code())
			}
		}
	}

	for _, c := range d.bank.Update(d.timer, d.now()) {
		d.dispatch(c)
	}

	if d.heartbeat != nil && d.heartbeat.Due(d.timer.Sec()) {
		log.Printf("heartbeat: seconds=%d ticks=%d", d.timer.Sec(), d.ticks)
		d.refresh()
		d.reportAll()
		d.publishStatus(mqtt.EventHeartbeat, "")
	}

	d.refresh()
}

// dispatch fans a committed value out to every sink. A failing sink is
// logged and counted; it never stops the others.
func (d *daemon) dispatch(c bank.Commit) {
	log.Printf("commit: %c %s=%.3f raw=%.3f @%ds", c.Code, c.Name, c.Value, c.Raw, c.Seconds)
	d.metrics.Commit(c)

	if d.publisher != nil {
		if err := d.publisher.Publish(c); err != nil {
			log.Printf("publish error: %v", err)
			d.metrics.PublishError("mqtt")
		}
	}
	if d.hub != nil {
		d.hub.BroadcastCommit(c)
	}
	if d.reporter != nil {
		if h, ok := d.bank.Lookup(c.Code); ok {
			if err := d.reporter.Report(h); err != nil {
				log.Printf("report error: %v", err)
				d.metrics.PublishError("report")
			}
		}
	}
}

// reportAll writes a line for every channel to the console.
func (d *daemon) reportAll() {
	if d.reporter == nil {
		return
	}
	if err := d.reporter.ReportAll(d.bank.Handlers()); err != nil {
		log.Printf("report error: %v", err)
		d.metrics.PublishError("report")
	}
}

// apply executes one queued control command. The tracker is refreshed before
// the caller is released so its response reflects the change.
func (d *daemon) apply(cmd web.Command) {
	h, ok := d.bank.Lookup(cmd.Code)
	if !ok {
		cmd.Done(web.ErrUnknownChannel)
		return
	}

	switch {
	case cmd.Power != nil:
		log.Printf("control: channel %c power %s", cmd.Code, onOff(*cmd.Power))
		h.SetPower(*cmd.Power)
	case cmd.Interval > 0:
		log.Printf("control: channel %c interval %ds", cmd.Code, cmd.Interval)
		h.SetDelay(cmd.Interval)
	}

	d.persist(cmd.Code)
	d.refresh()
	cmd.Done(nil)
}

func (d *daemon) persist(code byte) {
	if d.store == nil {
		return
	}
	if err := d.bank.Persist(d.store, code); err != nil {
		log.Printf("store error: %v", err)
	}
}

// refresh copies channel state into the tracker for HTTP consumers.
func (d *daemon) refresh() {
	d.tracker.Update(d.bank.Snapshots(), d.timer.Sec(), d.ticks)
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	for _, h := range d.bank.Handlers() {
		d.metrics.SetPower(h.Code(), h.Power())
	}
}

func (d *daemon) publishStatus(event, reason string) {
	if d.publisher == nil {
		return
	}
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
		Retained:   event != mqtt.EventHeartbeat,
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		d.metrics.PublishError("mqtt")
		return
	}
	log.Printf("published %s event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
