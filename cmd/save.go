package cmd

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/marcus/objsync/internal/input"
	"github.com/marcus/objsync/internal/output"
	"github.com/marcus/objsync/pkg/remote"
	"github.com/spf13/cobra"
)

// parseValue reads s as a JSON literal, decoding typed encodings such as
// {"__type":"Date",...}. Anything that is not a single JSON value is kept
// as a plain string.
func parseValue(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s, nil
	}
	return remote.Decode(v)
}

// applyAssignment applies one "key=value", "key+=n" or "key-=n" argument.
func applyAssignment(obj *remote.Object, arg string) error {
	key, raw, ok := strings.Cut(arg, "=")
	if !ok || key == "" {
		return fmt.Errorf("%w: expected key=value, got %q", remote.ErrInvalidValue, arg)
	}

	if k, found := strings.CutSuffix(key, "+"); found {
		return increment(obj, k, raw, 1)
	}
	if k, found := strings.CutSuffix(key, "-"); found {
		return increment(obj, k, raw, -1)
	}

	v, err := parseValue(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return assign(obj, key, v)
}

func increment(obj *remote.Object, key, raw string, sign int64) error {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return obj.Increment(key, sign*n)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("%w: %s needs a number, got %q", remote.ErrInvalidValue, key, raw)
	}
	return obj.Increment(key, float64(sign)*f)
}

func assign(obj *remote.Object, key string, v any) error {
	switch x := v.(type) {
	case nil:
		return obj.Delete(key)
	case []any:
		return obj.SetArray(key, x)
	case map[string]any:
		if key == "ACL" {
			acl, err := remote.NewACLFromMap(x)
			if err != nil {
				return err
			}
			return obj.SetACL(acl)
		}
		return obj.SetMap(key, x)
	}
	return obj.Set(key, v)
}

// applyListFlag applies --add/--add-unique/--remove "key=value" flags.
func applyListFlag(cmd *cobra.Command, obj *remote.Object, name string) error {
	items, _ := cmd.Flags().GetStringArray(name)
	for _, item := range items {
		key, raw, ok := strings.Cut(item, "=")
		if !ok || key == "" {
			return fmt.Errorf("%w: --%s expects key=value, got %q", remote.ErrInvalidValue, name, item)
		}
		v, err := parseValue(raw)
		if err != nil {
			return err
		}
		values, isList := v.([]any)
		if !isList {
			values = []any{v}
		}
		switch name {
		case "add":
			err = obj.Add(key, values...)
		case "add-unique":
			err = obj.AddUnique(key, values...)
		case "remove":
			err = obj.Remove(key, values...)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var saveCmd = &cobra.Command{
	Use:   "save <class>[/<objectId>] key=value...",
	Short: "Create or update a record",
	Long: `Create a record, or update one when an objectId is given.

Values are read as JSON when they parse (numbers, true, false, null,
arrays, objects, quoted strings and typed values like
{"__type":"Date","iso":"2026-01-02T00:00:00Z"}); anything else is a
string. null deletes the field. key+=n and key-=n increment.`,
	Example: `  objsync save GameScore playerName=Sean score=1337
  objsync save GameScore/xWMyZ4YEGZ score+=1 --add-unique tags=pro
  objsync save Post 'ACL={"*":{"read":true}}' title="Hello"`,
	GroupID: "records",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer release()

		className, id, _ := strings.Cut(args[0], "/")
		if className == "" {
			return fmt.Errorf("%w: class name required", remote.ErrInvalidValue)
		}
		var r remote.Record
		if id != "" {
			r = remote.Pointer(className, id)
		} else {
			r = c.New(className)
		}
		obj := remote.ObjectOf(r)

		for _, arg := range args[1:] {
			if err := applyAssignment(obj, arg); err != nil {
				return err
			}
		}
		unset, _ := cmd.Flags().GetStringSlice("unset")
		for _, key := range unset {
			if err := obj.Delete(key); err != nil {
				return err
			}
		}
		for _, name := range []string{"add", "add-unique", "remove"} {
			if err := applyListFlag(cmd, obj, name); err != nil {
				return err
			}
		}
		if publicRead, _ := cmd.Flags().GetBool("public-read"); publicRead {
			acl, err := obj.ACL()
			if err != nil || acl == nil {
				acl = remote.NewACL()
			}
			acl.SetPublicReadAccess(true)
			if err := obj.SetACL(acl); err != nil {
				return err
			}
		}

		if err := c.Save(cmd.Context(), r, callOptions(cmd)...); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(cmd.OutOrStdout(), r)
		}
		if id == "" {
			output.Success(cmd.OutOrStdout(), "created %s", output.RecordRef(r))
		} else {
			output.Success(cmd.OutOrStdout(), "updated %s", output.RecordRef(r))
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <class> <objectId>...",
	Aliases: []string{"rm"},
	Short:   "Delete records",
	Long: `Delete records by id. An id of - reads ids from stdin, one per line;
@path reads them from a file.`,
	GroupID: "records",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := input.ExpandArgs(args[1:], cmd.InOrStdin())
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("%w: no ids to delete", remote.ErrInvalidValue)
		}

		c, release, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer release()

		records := make([]remote.Record, 0, len(ids))
		for _, id := range ids {
			records = append(records, remote.Pointer(args[0], id))
		}
		if len(records) == 1 {
			err = c.Destroy(cmd.Context(), records[0], callOptions(cmd)...)
		} else {
			err = c.DestroyAll(cmd.Context(), records, callOptions(cmd)...)
		}
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(cmd.OutOrStdout(), map[string]any{"deleted": ids})
		}
		output.Success(cmd.OutOrStdout(), "deleted %d %s records", len(records), args[0])
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:     "upload <path>",
	Short:   "Upload a file and print its URL",
	GroupID: "records",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = filepath.Base(args[0])
		}
		contentType, _ := cmd.Flags().GetString("type")
		if contentType == "" {
			contentType = mime.TypeByExtension(filepath.Ext(name))
		}

		c, release, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer release()

		f := remote.NewFile(name, data, contentType)
		if err := c.SaveFile(cmd.Context(), f); err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(cmd.OutOrStdout(), map[string]string{"name": f.Name(), "url": f.URL()})
		}
		fmt.Fprintln(cmd.OutOrStdout(), f.URL())
		return nil
	},
}

func init() {
	saveCmd.Flags().StringSlice("unset", nil, "Delete these fields")
	saveCmd.Flags().StringArray("add", nil, "Append key=value to an array field")
	saveCmd.Flags().StringArray("add-unique", nil, "Append key=value to an array field unless present")
	saveCmd.Flags().StringArray("remove", nil, "Remove key=value from an array field")
	saveCmd.Flags().Bool("public-read", false, "Grant public read access")
	uploadCmd.Flags().String("name", "", "Name to store the file under (default: base name of path)")
	uploadCmd.Flags().String("type", "", "Content type (default: guessed from the extension)")

	rootCmd.AddCommand(saveCmd, deleteCmd, uploadCmd)
}
