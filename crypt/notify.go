// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package crypt

import (
	"fmt"
	"time"

	"github.com/canonical/volcrypt/logger"
)

var (
	// settleDelay gives the freshly mounted filesystem a moment
	// before the supervisor is poked.
	settleDelay = 2 * time.Second

	// dataPrepTimeout bounds, in wall-clock time, how long the
	// notifier waits for the supervisor to acknowledge data
	// preparation.
	dataPrepTimeout = 50 * time.Second

	dataPrepPollInterval = 50 * time.Millisecond

	timeNow   = time.Now
	timeSleep = time.Sleep
)

// kickOff spawns the post-enablement notifier. The caller does not
// wait for it and never learns its outcome: the notifier's failures
// are terminal only for itself.
func (m *Manager) kickOff() {
	m.tomb.Go(m.notify)
}

// notify resumes deferred startup actions on the supervisor side and,
// once data preparation is acknowledged, triggers the transition to
// normal startup.
func (m *Manager) notify() error {
	timeSleep(settleDelay)

	if err := m.props.Set(PropTrigger, TriggerLoadPersistProps); err != nil {
		logger.Noticef("cannot signal supervisor: %v", err)
		return nil
	}
	if err := m.prepDataFS(); err != nil {
		logger.Noticef("%v", err)
		return nil
	}
	if err := m.props.Set(PropTrigger, TriggerRestartServices); err != nil {
		logger.Noticef("cannot signal supervisor: %v", err)
	}
	return nil
}

// prepDataFS asks the supervisor to prepare the data filesystem and
// waits for the acknowledgment. The property channel has no blocking
// wait, so the acknowledgment is polled against a wall-clock
// deadline.
func (m *Manager) prepDataFS() error {
	if err := m.props.Set(PropDataPrepDone, "0"); err != nil {
		return err
	}
	if err := m.props.Set(PropTrigger, TriggerDataPrep); err != nil {
		return err
	}
	logger.Debugf("waiting for data preparation to complete")

	deadline := timeNow().Add(dataPrepTimeout)
	for {
		if m.props.Get(PropDataPrepDone) == "1" {
			logger.Debugf("data preparation complete")
			return nil
		}
		if timeNow().After(deadline) {
			return fmt.Errorf("timed out after %v waiting for data preparation", dataPrepTimeout)
		}
		timeSleep(dataPrepPollInterval)
	}
}
