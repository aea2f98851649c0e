package posix_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ardanlabs/minernet/foundation/ipc"
	"github.com/ardanlabs/minernet/foundation/ipc/posix"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestRegion(t *testing.T) {
	t.Log("Given the need to share memory between handles.")
	{
		ns, err := posix.New(t.TempDir())
		if err != nil {
			t.Fatalf("\t%s\tShould be able to create the namespace: %v", failed, err)
		}

		t.Logf("\tTest 0:\tWhen two handles open the same region.")
		{
			r1, created, err := ns.Open("shared", 64)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to open the region: %v", failed, err)
			}
			defer r1.Close()
			if !created {
				t.Fatalf("\t%s\tTest 0:\tShould report the first open as the creator.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould report the first open as the creator.", success)

			r2, created, err := ns.Open("shared", 64)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to open the region again: %v", failed, err)
			}
			defer r2.Close()
			if created {
				t.Fatalf("\t%s\tTest 0:\tShould not report the second open as the creator.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not report the second open as the creator.", success)

			copy(r1.Bytes(), "minernet")
			if !bytes.HasPrefix(r2.Bytes(), []byte("minernet")) {
				t.Fatalf("\t%s\tTest 0:\tShould see writes through both handles.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould see writes through both handles.", success)
		}

		t.Logf("\tTest 1:\tWhen the region is unlinked.")
		{
			if err := ns.Unlink("shared", "missing"); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to unlink: %v", failed, err)
			}
			if _, err := os.Stat(filepath.Join(ns.Path(), "shared.shm")); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("\t%s\tTest 1:\tShould remove the backing file: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould remove the backing file and ignore missing names.", success)

			r, created, err := ns.Open("shared", 64)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to open the region: %v", failed, err)
			}
			defer r.Close()
			if !created || r.Bytes()[0] != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould create a fresh zeroed region.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould create a fresh zeroed region.", success)
		}
	}
}

func TestMutex(t *testing.T) {
	t.Log("Given the need to exclude other holders of a lock.")
	{
		ns, err := posix.New(t.TempDir())
		if err != nil {
			t.Fatalf("\t%s\tShould be able to create the namespace: %v", failed, err)
		}

		t.Logf("\tTest 0:\tWhen two handles lock the same mutex.")
		{
			mu1, err := ns.Mutex("lock")
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to open the mutex: %v", failed, err)
			}
			defer mu1.Close()

			mu2, err := ns.Mutex("lock")
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to open the mutex again: %v", failed, err)
			}
			defer mu2.Close()

			if err := mu1.Lock(); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to lock: %v", failed, err)
			}

			locked := make(chan struct{})
			go func() {
				ipc.Lock(mu2, func() error {
					close(locked)
					return nil
				})
			}()

			select {
			case <-locked:
				t.Fatalf("\t%s\tTest 0:\tShould block the second handle while held.", failed)
			case <-time.After(100 * time.Millisecond):
			}
			t.Logf("\t%s\tTest 0:\tShould block the second handle while held.", success)

			if err := mu1.Unlock(); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to unlock: %v", failed, err)
			}

			select {
			case <-locked:
			case <-time.After(2 * time.Second):
				t.Fatalf("\t%s\tTest 0:\tShould admit the second handle after the unlock.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould admit the second handle after the unlock.", success)
		}
	}
}

func TestSemaphore(t *testing.T) {
	t.Log("Given the need to count permits between handles.")
	{
		ns, err := posix.New(t.TempDir())
		if err != nil {
			t.Fatalf("\t%s\tShould be able to create the namespace: %v", failed, err)
		}

		poster, err := ns.Semaphore("sem")
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the semaphore: %v", failed, err)
		}
		defer poster.Close()

		waiter, err := ns.Semaphore("sem")
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the semaphore again: %v", failed, err)
		}
		defer waiter.Close()

		t.Logf("\tTest 0:\tWhen permits are posted.")
		{
			if err := poster.Post(3); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to post: %v", failed, err)
			}

			for i := range 2 {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				err := waiter.Wait(ctx)
				cancel()
				if err != nil {
					t.Fatalf("\t%s\tTest 0:\tShould take permit %d: %v", failed, i, err)
				}
			}
			t.Logf("\t%s\tTest 0:\tShould let the other handle take the permits.", success)

			n, err := waiter.Drain()
			if err != nil || n != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould drain the remaining permit: got %d, %v", failed, n, err)
			}
			t.Logf("\t%s\tTest 0:\tShould drain the remaining permit.", success)
		}

		t.Logf("\tTest 1:\tWhen no permit is available.")
		{
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			if err := waiter.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("\t%s\tTest 1:\tShould time out: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould time out.", success)
		}

		t.Logf("\tTest 2:\tWhen a permit arrives while waiting.")
		{
			go func() {
				time.Sleep(50 * time.Millisecond)
				poster.Post(1)
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			if err := waiter.Wait(ctx); err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould wake up for the permit: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould wake up for the permit.", success)
		}
	}
}

func TestQueue(t *testing.T) {
	t.Log("Given the need to pass fixed size messages between handles.")
	{
		ns, err := posix.New(t.TempDir())
		if err != nil {
			t.Fatalf("\t%s\tShould be able to create the namespace: %v", failed, err)
		}

		t.Logf("\tTest 0:\tWhen a message is sent.")
		{
			sender, err := ns.Queue("mq", 16)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to open the queue: %v", failed, err)
			}
			defer sender.Close()

			receiver, err := ns.Queue("mq", 16)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to open the queue again: %v", failed, err)
			}
			defer receiver.Close()

			if err := sender.Send([]byte("block")); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to send: %v", failed, err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			msg, err := receiver.Receive(ctx)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to receive: %v", failed, err)
			}
			if len(msg) != 16 || !bytes.HasPrefix(msg, []byte("block")) {
				t.Fatalf("\t%s\tTest 0:\tShould receive the padded message: %q", failed, msg)
			}
			t.Logf("\t%s\tTest 0:\tShould receive the padded message.", success)

			if err := sender.Send(make([]byte, 17)); err == nil {
				t.Fatalf("\t%s\tTest 0:\tShould refuse an oversized message.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould refuse an oversized message.", success)
		}

		t.Logf("\tTest 1:\tWhen nobody drains the queue.")
		{
			q, err := ns.Queue("full", 4096)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to open the queue: %v", failed, err)
			}
			defer q.Close()

			var sendErr error
			for range 1024 {
				if sendErr = q.Send([]byte("x")); sendErr != nil {
					break
				}
			}
			if !errors.Is(sendErr, ipc.ErrQueueFull) {
				t.Fatalf("\t%s\tTest 1:\tShould report a full queue: %v", failed, sendErr)
			}
			t.Logf("\t%s\tTest 1:\tShould report a full queue without blocking.", success)
		}

		t.Logf("\tTest 2:\tWhen the message size is out of range.")
		{
			if _, err := ns.Queue("bad", 8192); err == nil {
				t.Fatalf("\t%s\tTest 2:\tShould refuse messages larger than an atomic pipe write.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould refuse messages larger than an atomic pipe write.", success)
		}
	}
}

func TestSignaler(t *testing.T) {
	t.Log("Given the need to signal processes.")
	{
		t.Logf("\tTest 0:\tWhen probing for existence.")
		{
			var s posix.Signaler

			if err := s.Send(os.Getpid(), ipc.Ping); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould find this process: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould find this process.", success)

			if err := s.Send(0x7ffffff0, ipc.Ping); !errors.Is(err, ipc.ErrNoProcess) {
				t.Fatalf("\t%s\tTest 0:\tShould report a missing process: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould report a missing process.", success)
		}

		t.Logf("\tTest 1:\tWhen a probe is delivered to this process.")
		{
			inbox, stop := posix.Notify(4)
			defer stop()

			if err := (posix.Signaler{}).Send(os.Getpid(), ipc.Probe); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to send: %v", failed, err)
			}

			select {
			case sig := <-inbox:
				if sig != ipc.Probe {
					t.Fatalf("\t%s\tTest 1:\tShould receive a probe, got %s.", failed, sig)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("\t%s\tTest 1:\tShould receive the signal in the inbox.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould receive the probe in the inbox.", success)
		}
	}
}
