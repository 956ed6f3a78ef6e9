package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/globals"
	"github.com/PiyushMakhija26/secure-messaging/persistence"
	"github.com/PiyushMakhija26/secure-messaging/types"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// A very simple CLI tool for the administration of rooms, users and chat
// history.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	log.SetFlags(0)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		log.Fatal("interrupted!")
	}()

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)

	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}

	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	if persister == nil {
		panic("no persistence configured")
	}
	defer persister.Close()

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show room or user",
		Long:  `show is for printing user or room information with a given user/room id.`,
		Args:  cobra.MinimumNArgs(0),
	}
	var cmdShowRooms = &cobra.Command{
		Use:   "rooms",
		Short: "Show rooms",
		Long:  `show rooms lists all available rooms.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			rooms, err := persister.GetRooms()
			if err != nil {
				globals.AppLogger.Error("could not get rooms", "error", err)
				return
			}
			r, err := json.Marshal(rooms)
			if err != nil {
				globals.AppLogger.Error("could not marshal rooms", "error", err)
				return
			}
			fmt.Println(string(r))
		},
	}
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Show room",
		Long:  `show room prints detail information about the room with the given id.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room := types.Room{Id: args[0]}
			err := persister.GetRoom(&room)
			if err != nil {
				globals.AppLogger.Error("could not get room", "error", err)
				return
			}
			r, err := json.Marshal(room)
			if err != nil {
				globals.AppLogger.Error("could not marshal room", "error", err)
				return
			}
			fmt.Println(string(r))
		},
	}
	var cmdShowUsers = &cobra.Command{
		Use:   "users",
		Short: "Show users",
		Long:  `show users lists all registered users.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			users, err := persister.GetUsers()
			if err != nil {
				globals.AppLogger.Error("could not get users", "error", err)
				return
			}
			u, err := json.Marshal(users)
			if err != nil {
				globals.AppLogger.Error("could not marshal users", "error", err)
				return
			}
			fmt.Println(string(u))
		},
	}
	var cmdShowUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Show user",
		Long:  `show user prints detail information about the user with the given id.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user := types.User{Id: args[0]}
			err := persister.GetUser(&user)
			if err != nil {
				globals.AppLogger.Error("could not get user", "error", err)
				return
			}
			u, err := json.Marshal(user)
			if err != nil {
				globals.AppLogger.Error("could not marshal user", "error", err)
				return
			}
			fmt.Println(string(u))
		},
	}
	var cmdShowHistory = &cobra.Command{
		Use:   "history [room id]",
		Short: "Show room history",
		Long:  `show history prints the most recent chat events of the room with the given id, oldest first.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			events, err := persister.RecentEvents(args[0], globalConfig.HistoryConfig.ReplayLimit)
			if err != nil {
				globals.AppLogger.Error("could not get events", "error", err)
				return
			}
			e, err := json.Marshal(events)
			if err != nil {
				globals.AppLogger.Error("could not marshal events", "error", err)
				return
			}
			fmt.Println(string(e))
		},
	}
	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "Delete room or user",
		Long:  `delete removes the user or room with a given user/room id.`,
		Args:  cobra.MinimumNArgs(0),
	}
	var cmdDeleteRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Delete room",
		Long:  `delete room removes the room with the given id including its member list and chat history.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room := types.Room{Id: args[0]}
			err := persister.DeleteRoom(&room)
			if err != nil {
				globals.AppLogger.Error("could not delete room", "error", err)
				return
			}
		},
	}
	var cmdDeleteUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Delete user",
		Long:  `delete user removes the user with the given id.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user := types.User{Id: args[0]}
			err := persister.DeleteUser(&user)
			if err != nil {
				globals.AppLogger.Error("could not delete user", "error", err)
				return
			}
		},
	}
	var cmdPurge = &cobra.Command{
		Use:   "purge [room id]",
		Short: "Purge room history",
		Long:  `purge deletes all chat events of the room with the given id. The room itself and its member list are kept.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			err := persister.PurgeRoom(args[0])
			if err != nil {
				globals.AppLogger.Error("could not purge room", "error", err)
				return
			}
		},
	}
	var cmdSweep = &cobra.Command{
		Use:   "sweep",
		Short: "Run a retention sweep",
		Long:  `sweep deletes all chat events older than the configured retention age, across all rooms.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			maxAge := time.Duration(globalConfig.RetentionConfig.MaxAgeDays) * 24 * time.Hour
			n, err := persister.SweepExpired(maxAge)
			if err != nil {
				globals.AppLogger.Error("could not sweep events", "error", err)
				return
			}
			fmt.Printf("deleted %d events\n", n)
		},
	}
	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "Create/update room or user",
		Long:  `set creates or updates a room or user.`,
		Args:  cobra.MinimumNArgs(0),
	}
	var cmdSetRoom = &cobra.Command{
		Use:   "room [room definition]",
		Short: "Set room",
		Long:  `set room creates or updates a room. If the room definition is "-", the definition is read from STDIN.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var r io.Reader
			if args[0] == "-" {
				r = os.Stdin
			} else {
				r = bytes.NewReader([]byte(args[0]))
			}
			dec := json.NewDecoder(r)
			room := types.Room{}
			err := dec.Decode(&room)
			if err != nil {
				globals.AppLogger.Error("could not decode room", "error", err)
				return
			}
			if room.Id == "" {
				globals.AppLogger.Error("no room id")
				return
			}
			if room.AdminId == "" {
				globals.AppLogger.Warn("no admin set")
			}
			err = persister.StoreRoom(room)
			if err != nil {
				globals.AppLogger.Error("could not store room", "error", err)
				return
			}
		},
	}
	var cmdSetUser = &cobra.Command{
		Use:   "user [user definition]",
		Short: "Set user",
		Long:  `set user creates or updates a user with the given definition. If the user definition is "-", it is read from STDIN.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var r io.Reader
			if args[0] == "-" {
				r = os.Stdin
			} else {
				r = bytes.NewReader([]byte(args[0]))
			}
			dec := json.NewDecoder(r)
			user := types.User{}
			err := dec.Decode(&user)
			if err != nil {
				globals.AppLogger.Error("could not decode user", "error", err)
				return
			}
			if user.Id == "" {
				globals.AppLogger.Error("no user id")
				return
			}
			err = persister.StoreUser(user)
			if err != nil {
				globals.AppLogger.Error("could not store user", "error", err)
				return
			}
		},
	}
	var rootCmd = &cobra.Command{Use: "secure-messaging-admin"}
	rootCmd.AddCommand(cmdShow)
	rootCmd.AddCommand(cmdDelete)
	rootCmd.AddCommand(cmdSet)
	rootCmd.AddCommand(cmdPurge)
	rootCmd.AddCommand(cmdSweep)
	cmdShow.AddCommand(cmdShowRooms, cmdShowRoom, cmdShowUsers, cmdShowUser, cmdShowHistory)
	cmdDelete.AddCommand(cmdDeleteRoom, cmdDeleteUser)
	cmdSet.AddCommand(cmdSetRoom, cmdSetUser)
	rootCmd.Execute()
}
