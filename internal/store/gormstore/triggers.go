package gormstore

import (
	"fmt"

	"github.com/DoyleJ11/storyforge-backend/internal/store"
)

// The payload of every notification is the session id the row belongs to.
var triggerSQL = []string{
	`CREATE OR REPLACE FUNCTION storyforge_notify() RETURNS trigger AS $$
DECLARE
	rec record;
	sid text;
BEGIN
	IF TG_OP = 'DELETE' THEN
		rec := OLD;
	ELSE
		rec := NEW;
	END IF;
	IF TG_TABLE_NAME = 'sessions' THEN
		sid := rec.id;
	ELSE
		sid := rec.session_id;
	END IF;
	PERFORM pg_notify(TG_ARGV[0], sid);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`,
	trigger("sessions", store.ChannelSession),
	trigger("players", store.ChannelSession),
	trigger("chat_messages", store.ChannelChat),
}

func trigger(table string, ch store.Channel) string {
	name := table + "_notify"
	return fmt.Sprintf(`DO $$
BEGIN
	DROP TRIGGER IF EXISTS %[1]s ON %[2]s;
	CREATE TRIGGER %[1]s AFTER INSERT OR UPDATE OR DELETE ON %[2]s
		FOR EACH ROW EXECUTE FUNCTION storyforge_notify('%[3]s');
END
$$`, name, table, ch)
}
