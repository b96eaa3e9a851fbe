// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/voicebox/internal/api/connect"
	"github.com/osa030/voicebox/internal/app/notification"
)

var (
	app    = kingpin.New("voicebox-admincli", "voicebox admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// play command
	playCmd     = app.Command("play", "Play or queue a track")
	playRoom    = playCmd.Arg("room", "Room ID").Required().String()
	playChannel = playCmd.Arg("channel", "Text channel the command comes from").Required().String()
	playQuery   = playCmd.Arg("query", "URL or search words").Required().Strings()

	skipCmd    = app.Command("skip", "Skip the current track")
	skipRoom   = skipCmd.Arg("room", "Room ID").Required().String()
	prevCmd    = app.Command("prev", "Play the previous track again")
	prevRoom   = prevCmd.Arg("room", "Room ID").Required().String()
	pauseCmd   = app.Command("pause", "Pause playback")
	pauseRoom  = pauseCmd.Arg("room", "Room ID").Required().String()
	resumeCmd  = app.Command("resume", "Resume playback")
	resumeRoom = resumeCmd.Arg("room", "Room ID").Required().String()
	stopCmd    = app.Command("stop", "Stop playback and leave the room")
	stopRoom   = stopCmd.Arg("room", "Room ID").Required().String()

	// volume command
	volumeCmd     = app.Command("volume", "Set the volume")
	volumeRoom    = volumeCmd.Arg("room", "Room ID").Required().String()
	volumePercent = volumeCmd.Arg("percent", "Volume 0-100").Required().Int()

	// remove command
	removeCmd      = app.Command("remove", "Remove a queued track")
	removeRoom     = removeCmd.Arg("room", "Room ID").Required().String()
	removePosition = removeCmd.Arg("position", "Queue position (1-based)").Required().Int()

	queueCmd  = app.Command("queue", "Show the queue")
	queueRoom = queueCmd.Arg("room", "Room ID").Required().String()

	statusCmd  = app.Command("status", "Show the status of a room")
	statusRoom = statusCmd.Arg("room", "Room ID").Required().String()

	roomsCmd = app.Command("rooms", "List rooms with a player").Alias("list")

	// auto-disconnect command
	autoCmd    = app.Command("auto-disconnect", "Turn auto-disconnect on or off for a room")
	autoRoom   = autoCmd.Arg("room", "Room ID").Required().String()
	autoSwitch = autoCmd.Arg("switch", "on or off").Required().Enum("on", "off")

	// presence command
	presenceCmd   = app.Command("presence", "Report room occupancy")
	presenceRoom  = presenceCmd.Arg("room", "Room ID").Required().String()
	presenceCount = presenceCmd.Arg("count", "Members in the room, including the bot").Required().Int()
	presenceSelf  = presenceCmd.Flag("self", "The change is about the bot itself").Bool()

	// favorites commands
	faveCmd      = app.Command("fave", "Save the current track to a user's favorites")
	faveRoom     = faveCmd.Arg("room", "Room ID").Required().String()
	faveUser     = faveCmd.Arg("user", "User ID").Required().String()
	unfaveCmd    = app.Command("unfave", "Remove a favorite")
	unfaveUser   = unfaveCmd.Arg("user", "User ID").Required().String()
	unfaveIndex  = unfaveCmd.Arg("index", "Favorite number (1-based)").Required().Int()
	favesCmd     = app.Command("favorites", "List a user's favorites")
	favesUser    = favesCmd.Arg("user", "User ID").Required().String()
	likedCmd     = app.Command("play-liked", "Play a user's favorites")
	likedRoom    = likedCmd.Arg("room", "Room ID").Required().String()
	likedChannel = likedCmd.Arg("channel", "Text channel the command comes from").Required().String()
	likedUser    = likedCmd.Arg("user", "User ID").Required().String()
	likedIndex   = likedCmd.Arg("index", "Favorite number (1-based), all when omitted").Default("0").Int()

	// watch command
	watchCmd  = app.Command("watch", "Stream status updates")
	watchRoom = watchCmd.Arg("room", "Room ID, all rooms when omitted").String()
)

var (
	titleColor = color.New(color.FgHiCyan, color.Bold)
	okColor    = color.New(color.FgHiGreen)
	warnColor  = color.New(color.FgHiYellow)
	errorColor = color.New(color.FgHiRed)
	dimColor   = color.New(color.FgHiBlack)
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Check admin token
	if *token == "" {
		errorColor.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, client, command); err != nil {
		fail(err)
	}
}

func execute(ctx context.Context, client *apiconnect.Client, command string) error {
	switch command {
	case playCmd.FullCommand():
		resp, err := client.Play(ctx, &apiconnect.PlayRequest{
			RoomID:  *playRoom,
			Channel: *playChannel,
			Query:   strings.Join(*playQuery, " "),
		})
		if err != nil {
			return err
		}
		printPlayed(resp)

	case skipCmd.FullCommand():
		return trackCommand(client.Skip(ctx, *skipRoom))("Skipped")
	case prevCmd.FullCommand():
		return trackCommand(client.Prev(ctx, *prevRoom))("Playing again")
	case pauseCmd.FullCommand():
		return trackCommand(client.Pause(ctx, *pauseRoom))("Paused")
	case resumeCmd.FullCommand():
		return trackCommand(client.Resume(ctx, *resumeRoom))("Resumed")

	case stopCmd.FullCommand():
		if err := client.Stop(ctx, *stopRoom); err != nil {
			return err
		}
		okColor.Println("Stopped")

	case volumeCmd.FullCommand():
		resp, err := client.SetVolume(ctx, *volumeRoom, *volumePercent)
		if err != nil {
			return err
		}
		okColor.Printf("Volume set to %d%%\n", resp.Percent)

	case removeCmd.FullCommand():
		return trackCommand(client.RemoveFromQueue(ctx, *removeRoom, *removePosition))("Removed")

	case queueCmd.FullCommand():
		resp, err := client.QueueView(ctx, *queueRoom)
		if err != nil {
			return err
		}
		printQueue(resp)

	case statusCmd.FullCommand():
		resp, err := client.GetStatus(ctx, *statusRoom)
		if err != nil {
			return err
		}
		printStatus(resp)

	case roomsCmd.FullCommand():
		resp, err := client.ListRooms(ctx)
		if err != nil {
			return err
		}
		if len(resp.Rooms) == 0 {
			dimColor.Println("No rooms have a player")
		}
		for i := range resp.Rooms {
			printStatus(&resp.Rooms[i])
		}

	case autoCmd.FullCommand():
		resp, err := client.SetAutoDisconnect(ctx, *autoRoom, *autoSwitch == "on")
		if err != nil {
			return err
		}
		okColor.Printf("Auto-disconnect for %s: %s (grace %ds)\n", resp.RoomID, onOff(resp.Policy.AutoDisconnect), resp.Policy.GracePeriodSec)

	case presenceCmd.FullCommand():
		if err := client.ReportPresence(ctx, &apiconnect.ReportPresenceRequest{
			RoomID: *presenceRoom,
			Count:  *presenceCount,
			IsSelf: *presenceSelf,
		}); err != nil {
			return err
		}
		okColor.Println("Presence reported")

	case faveCmd.FullCommand():
		resp, err := client.Fave(ctx, *faveRoom, *faveUser)
		if err != nil {
			return err
		}
		okColor.Printf("Saved %s\n", resp.Favorite.Title)

	case unfaveCmd.FullCommand():
		resp, err := client.Unfave(ctx, *unfaveUser, *unfaveIndex)
		if err != nil {
			return err
		}
		okColor.Printf("Removed %s\n", resp.Favorite.Title)

	case favesCmd.FullCommand():
		resp, err := client.ListFavorites(ctx, *favesUser)
		if err != nil {
			return err
		}
		titleColor.Printf("\n=== FAVORITES OF %s ===\n", *favesUser)
		if len(resp.Favorites) == 0 {
			dimColor.Println("No favorites")
		}
		for _, f := range resp.Favorites {
			fmt.Printf("%3d. %s", f.Index, f.Title)
			if f.Author != "" {
				dimColor.Printf(" - %s", f.Author)
			}
			fmt.Println()
		}

	case likedCmd.FullCommand():
		resp, err := client.PlayLiked(ctx, &apiconnect.PlayLikedRequest{
			RoomID:  *likedRoom,
			Channel: *likedChannel,
			UserID:  *likedUser,
			Index:   *likedIndex,
		})
		if err != nil {
			return err
		}
		for _, r := range resp.Results {
			if r.Result == nil {
				warnColor.Printf("%3d. %s: %s\n", r.Favorite.Index, r.Favorite.Title, r.Message)
				continue
			}
			printPlayed(r.Result)
		}

	case watchCmd.FullCommand():
		return watch(ctx, client, *watchRoom)
	}

	return nil
}

// trackCommand prints the track a command acted on.
func trackCommand(resp *apiconnect.TrackResponse, err error) func(verb string) error {
	return func(verb string) error {
		if err != nil {
			return err
		}
		okColor.Printf("%s: %s\n", verb, formatTrack(&resp.Track))
		return nil
	}
}

func watch(ctx context.Context, client *apiconnect.Client, roomID string) error {
	stream, err := client.WatchStatus(ctx, roomID)
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		n := stream.Msg()
		prefix := dimColor.Sprintf("[%s #%d %s]", n.Time.Local().Format(time.TimeOnly), n.SequenceNo, n.RoomID)
		switch n.Type {
		case notification.TypeNotice:
			fmt.Printf("%s %s\n", prefix, warnColor.Sprint(n.Message))
		case notification.TypeStatus:
			fmt.Printf("%s %s\n", prefix, formatStatusLine(n.Status))
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func printPlayed(resp *apiconnect.PlayResponse) {
	if resp.Started {
		okColor.Printf("Now playing: %s\n", formatTrack(&resp.Track))
		return
	}
	okColor.Printf("Queued at #%d: %s\n", resp.Position, formatTrack(&resp.Track))
}

func printQueue(q *apiconnect.QueueViewResponse) {
	titleColor.Printf("\n=== QUEUE OF %s ===\n", q.RoomID)
	fmt.Printf("State: %s  Volume: %d%%  Channel: %s\n", q.State, q.VolumePercent, q.Channel)
	if q.Current != nil {
		fmt.Printf("Now playing: %s\n", formatTrack(q.Current))
	}
	if q.Last != nil {
		dimColor.Printf("Previous: %s\n", formatTrack(q.Last))
	}
	if len(q.Items) == 0 {
		dimColor.Println("Queue is empty")
	}
	for i := range q.Items {
		fmt.Printf("%3d. %s\n", i+1, formatTrack(&q.Items[i]))
	}
	fmt.Println()
}

func printStatus(s *apiconnect.RoomStatus) {
	titleColor.Printf("\n=== ROOM %s ===\n", s.Status.RoomID)
	fmt.Printf("Channel: %s\n", s.Status.Channel)
	fmt.Printf("State: %s\n", s.Status.State)
	fmt.Printf("Volume: %d%%\n", s.Status.VolumePercent)
	if s.Status.Current != nil {
		fmt.Printf("Now playing: %s\n", formatTrack(s.Status.Current))
	} else {
		dimColor.Println("Nothing playing")
	}
	if s.Last != nil {
		fmt.Printf("Previous: %s\n", formatTrack(s.Last))
	}
	fmt.Printf("Queue: %d tracks\n", len(s.Queue))
	if s.OccupancyKnown {
		fmt.Printf("Occupancy: %d\n", s.Occupancy)
	} else {
		dimColor.Println("Occupancy: unknown")
	}
	fmt.Printf("Auto-disconnect: %s (grace %ds)\n", onOff(s.Policy.AutoDisconnect), s.Policy.GracePeriodSec)
}

func formatStatusLine(s *notification.Status) string {
	if s == nil {
		return ""
	}
	if s.Closed {
		return "closed"
	}
	line := s.State
	if s.Current != nil {
		line += ": " + formatTrack(s.Current)
	}
	return fmt.Sprintf("%s (queue %d, volume %d%%)", line, s.QueueSize, s.VolumePercent)
}

func formatTrack(t *apiconnect.Track) string {
	s := t.Title
	if t.Author != "" {
		s += " - " + t.Author
	}
	if t.DurationSec > 0 {
		s += fmt.Sprintf(" [%s]", (time.Duration(t.DurationSec) * time.Second).String())
	}
	return s
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func fail(err error) {
	msg := apiconnect.ErrorMessage(err)
	if kind := apiconnect.ErrorKind(err); kind != "" {
		errorColor.Printf("Error: %s (%s)\n", msg, kind)
	} else {
		errorColor.Printf("Error: %s (%s)\n", msg, connect.CodeOf(err))
	}
	os.Exit(1)
}
